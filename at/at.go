package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	LF     = '\n'
	Prompt = "> "
	CtrlZ  = "\x1a"
	Escape = "\x1b"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Response and URC prefixes watched by the engine
	CodeBattery      = "+CBC"
	CodeRegistration = "+CREG"
	CodeTextMode     = "+CMGF"
	CodeDelete       = "+CMGD"
	CodeSend         = "+CMGS"
	CodeRead         = "+CMGR"
	CodeNewMessage   = "+CMTI"
	CodePIN          = "+CPIN"

	// CodeNone is watched by commands that only answer with a terminal
	// marker. It never prefixes a real modem line.
	CodeNone = "DUMMY"

	// Commands
	CmdAt           = "AT"
	CmdEchoOff      = "ATE0"
	CmdBattery      = "AT+CBC"
	CmdRegistration = "AT+CREG?"
	CmdSetTextMode  = "AT+CMGF=1"
	CmdDeleteAll    = "AT+CMGD=1,4"
	CmdSimStatus    = "AT+CPIN?"
	CmdEnterPIN     = `AT+CPIN="%s"`
	CmdSendSMS      = `AT+CMGS="%s"`
	CmdReadSMS      = "AT+CMGR=%d"

	// SIM states reported by +CPIN
	SimReady = "READY"
	SimPin   = "SIM PIN"
)

type ResponseType int

const (
	TypeData    ResponseType = iota // Header or continuation line
	TypeSuccess                     // OK
	TypeFailure                     // ERROR, +CME ERROR, +CMS ERROR
	TypePrompt                      // SMS input prompt
	TypeBlank                       // Empty line between responses
)
