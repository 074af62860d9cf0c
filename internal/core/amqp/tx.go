package amqp

// TX and CONFIRM methods carry no fields apart from confirm.select's no-wait bit.

type TxSelectMessage struct{}
type TxSelectOkMessage struct{}
type TxCommitMessage struct{}
type TxCommitOkMessage struct{}
type TxRollbackMessage struct{}
type TxRollbackOkMessage struct{}

func (TxSelectMessage) ClassMethod() (uint16, uint16)     { return uint16(TX), uint16(TX_SELECT) }
func (TxSelectOkMessage) ClassMethod() (uint16, uint16)   { return uint16(TX), uint16(TX_SELECT_OK) }
func (TxCommitMessage) ClassMethod() (uint16, uint16)     { return uint16(TX), uint16(TX_COMMIT) }
func (TxCommitOkMessage) ClassMethod() (uint16, uint16)   { return uint16(TX), uint16(TX_COMMIT_OK) }
func (TxRollbackMessage) ClassMethod() (uint16, uint16)   { return uint16(TX), uint16(TX_ROLLBACK) }
func (TxRollbackOkMessage) ClassMethod() (uint16, uint16) { return uint16(TX), uint16(TX_ROLLBACK_OK) }

func (TxSelectMessage) Content() ContentList     { return ContentList{} }
func (TxSelectOkMessage) Content() ContentList   { return ContentList{} }
func (TxCommitMessage) Content() ContentList     { return ContentList{} }
func (TxCommitOkMessage) Content() ContentList   { return ContentList{} }
func (TxRollbackMessage) Content() ContentList   { return ContentList{} }
func (TxRollbackOkMessage) Content() ContentList { return ContentList{} }

// ConfirmSelectMessage puts a channel into publisher confirm mode.
type ConfirmSelectMessage struct {
	NoWait bool
}

type ConfirmSelectOkMessage struct{}

func (ConfirmSelectMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONFIRM), uint16(CONFIRM_SELECT)
}

func (m ConfirmSelectMessage) Content() ContentList {
	return fields(KeyValue{Key: BIT, Value: m.NoWait})
}

func (ConfirmSelectOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONFIRM), uint16(CONFIRM_SELECT_OK)
}

func (ConfirmSelectOkMessage) Content() ContentList { return ContentList{} }

func init() {
	registerMethod(uint16(TX), uint16(TX_SELECT), func(*fieldReader) Method { return &TxSelectMessage{} })
	registerMethod(uint16(TX), uint16(TX_SELECT_OK), func(*fieldReader) Method { return &TxSelectOkMessage{} })
	registerMethod(uint16(TX), uint16(TX_COMMIT), func(*fieldReader) Method { return &TxCommitMessage{} })
	registerMethod(uint16(TX), uint16(TX_COMMIT_OK), func(*fieldReader) Method { return &TxCommitOkMessage{} })
	registerMethod(uint16(TX), uint16(TX_ROLLBACK), func(*fieldReader) Method { return &TxRollbackMessage{} })
	registerMethod(uint16(TX), uint16(TX_ROLLBACK_OK), func(*fieldReader) Method { return &TxRollbackOkMessage{} })

	registerMethod(uint16(CONFIRM), uint16(CONFIRM_SELECT), func(r *fieldReader) Method {
		flags := r.flags("noWait")
		return &ConfirmSelectMessage{NoWait: flags["noWait"]}
	})
	registerMethod(uint16(CONFIRM), uint16(CONFIRM_SELECT_OK), func(*fieldReader) Method { return &ConfirmSelectOkMessage{} })
}
