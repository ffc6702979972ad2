package moo

// ErrorCode is a MOO error constant such as E_TYPE. Error codes are values
// in their own right (typeof(E_TYPE) == ERR), so ErrorCode implements Value.
type ErrorCode string

// The error codes every conformant server defines, in server order.
const (
	ENone    ErrorCode = "E_NONE"
	EType    ErrorCode = "E_TYPE"
	EDiv     ErrorCode = "E_DIV"
	EPerm    ErrorCode = "E_PERM"
	EPropNF  ErrorCode = "E_PROPNF"
	EVerbNF  ErrorCode = "E_VERBNF"
	EVarNF   ErrorCode = "E_VARNF"
	EInvInd  ErrorCode = "E_INVIND"
	ERecMove ErrorCode = "E_RECMOVE"
	EMaxRec  ErrorCode = "E_MAXREC"
	ERange   ErrorCode = "E_RANGE"
	EArgs    ErrorCode = "E_ARGS"
	ENAcc    ErrorCode = "E_NACC"
	EInvArg  ErrorCode = "E_INVARG"
	EQuota   ErrorCode = "E_QUOTA"
	EFloat   ErrorCode = "E_FLOAT"
	EFile    ErrorCode = "E_FILE"
	EExec    ErrorCode = "E_EXEC"
	EIntrpt  ErrorCode = "E_INTRPT"
)

// errorNumbers maps each code to the numeric value the server's toint()
// produces for it.
var errorNumbers = map[ErrorCode]int{
	ENone:    0,
	EType:    1,
	EDiv:     2,
	EPerm:    3,
	EPropNF:  4,
	EVerbNF:  5,
	EVarNF:   6,
	EInvInd:  7,
	ERecMove: 8,
	EMaxRec:  9,
	ERange:   10,
	EArgs:    11,
	ENAcc:    12,
	EInvArg:  13,
	EQuota:   14,
	EFloat:   15,
	EFile:    16,
	EExec:    17,
	EIntrpt:  18,
}

// ErrorFromName returns the error code named by s. The second return is
// false when s is not one of the known codes.
func ErrorFromName(s string) (ErrorCode, bool) {
	code := ErrorCode(s)
	_, ok := errorNumbers[code]
	return code, ok
}

// IsErrorName reports whether s names a known error code.
func IsErrorName(s string) bool {
	_, ok := errorNumbers[ErrorCode(s)]
	return ok
}

// Number returns the numeric value of the code (E_NONE is 0, E_INTRPT 18).
// Unknown codes return -1.
func (e ErrorCode) Number() int {
	if n, ok := errorNumbers[e]; ok {
		return n
	}
	return -1
}

func (e ErrorCode) String() string { return string(e) }

func (ErrorCode) mooValue() {}
