// Package ferr defines the Fenris error taxonomy shared by the crypto
// suite, compression codecs, secure channel, and file-operations layer.
// Each kind maps to a propagation policy: channel-level kinds are fatal
// to the connection, FileOperation is caught by the request handler and
// turned into an Error response.
package ferr

import "fmt"

// Kind classifies a Fenris error for propagation-policy decisions.
type Kind int

const (
	KindEncryption Kind = iota
	KindDecryption
	KindInvalidKeySize
	KindInvalidIVSize
	KindCompression
	KindDecompression
	KindNetwork
	KindConnectionClosed
	KindSerialization
	KindInvalidProtocolMessage
	KindInvalidRequest
	KindMissingField
	KindFileOperation
)

func (k Kind) String() string {
	switch k {
	case KindEncryption:
		return "EncryptionError"
	case KindDecryption:
		return "DecryptionError"
	case KindInvalidKeySize:
		return "InvalidKeySize"
	case KindInvalidIVSize:
		return "InvalidIvSize"
	case KindCompression:
		return "CompressionError"
	case KindDecompression:
		return "DecompressionError"
	case KindNetwork:
		return "NetworkError"
	case KindConnectionClosed:
		return "ConnectionClosed"
	case KindSerialization:
		return "SerializationError"
	case KindInvalidProtocolMessage:
		return "InvalidProtocolMessage"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindMissingField:
		return "MissingField"
	case KindFileOperation:
		return "FileOperationError"
	default:
		return "UnknownError"
	}
}

// Error is a Fenris error carrying its taxonomy Kind, so callers can
// branch on propagation policy without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ferr.New(ferr.KindDecryption, "")) style checks
// match any *Error of the same Kind, whatever its message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New constructs a Fenris error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a Fenris error of the given kind wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Sentinel instances for errors.Is comparisons that carry no extra
// context.
var (
	ErrConnectionClosed       = New(KindConnectionClosed, "connection closed")
	ErrInvalidProtocolMessage = New(KindInvalidProtocolMessage, "invalid protocol message")
)
