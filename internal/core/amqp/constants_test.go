package amqp

import "testing"

func TestReplyCodeString(t *testing.T) {
	tests := []struct {
		code     ReplyCode
		expected string
	}{
		{REPLY_SUCCESS, "REPLY_SUCCESS"},
		{NO_ROUTE, "NO_ROUTE"},
		{NOT_FOUND, "NOT_FOUND"},
		{PRECONDITION_FAILED, "PRECONDITION_FAILED"},
		{CHANNEL_ERROR, "CHANNEL_ERROR"},
		{NOT_ALLOWED, "NOT_ALLOWED"},
		{ReplyCode(999), "UNKNOWN_REPLY_CODE"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.code.String(); got != tt.expected {
				t.Errorf("ReplyCode(%d).String() = %q, expected %q", tt.code, got, tt.expected)
			}
		})
	}
}

func TestReplyCodeIsHardError(t *testing.T) {
	tests := []struct {
		code ReplyCode
		hard bool
	}{
		{CONTENT_TOO_LARGE, false},
		{NO_ROUTE, false},
		{ACCESS_REFUSED, false},
		{NOT_FOUND, false},
		{RESOURCE_LOCKED, false},
		{PRECONDITION_FAILED, false},
		{CONNECTION_FORCED, true},
		{FRAME_ERROR, true},
		{COMMAND_INVALID, true},
		{CHANNEL_ERROR, true},
		{UNEXPECTED_FRAME, true},
		{NOT_ALLOWED, true},
		{INTERNAL_ERROR, true},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.IsHardError(); got != tt.hard {
				t.Errorf("%s.IsHardError() = %v, expected %v", tt.code, got, tt.hard)
			}
		})
	}
}

func TestReplyCodeFormat(t *testing.T) {
	got := PRECONDITION_FAILED.Format("inequivalent arg 'durable'")
	want := "PRECONDITION_FAILED - inequivalent arg 'durable'"
	if got != want {
		t.Errorf("Format() = %q, expected %q", got, want)
	}
}

func TestIsExchangeKind(t *testing.T) {
	for _, kind := range []string{"direct", "fanout", "topic", "headers"} {
		if !IsExchangeKind(kind) {
			t.Errorf("IsExchangeKind(%q) = false, expected true", kind)
		}
	}
	for _, kind := range []string{"", "Direct", "x-consistent-hash", "match"} {
		if IsExchangeKind(kind) {
			t.Errorf("IsExchangeKind(%q) = true, expected false", kind)
		}
	}
}

func TestDeliveryModeValidate(t *testing.T) {
	for _, dm := range []DeliveryMode{DEFAULT, NON_PERSISTENT, PERSISTENT} {
		if err := dm.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", dm, err)
		}
	}
	if err := DeliveryMode(3).Validate(); err == nil {
		t.Error("expected delivery mode 3 to be rejected")
	}
}

func TestTypeClassString(t *testing.T) {
	if CONFIRM.String() != "confirm" {
		t.Errorf("CONFIRM.String() = %q", CONFIRM.String())
	}
	if TypeClass(7).String() != "class(7)" {
		t.Errorf("TypeClass(7).String() = %q", TypeClass(7).String())
	}
}
