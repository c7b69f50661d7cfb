// Package pirerr provides the error representation shared across pirtls:
// a single (Code, Platform) pair per failure, with no chain. Propagation
// always keeps the most useful outer Code while preserving the innermost
// Platform tag, matching the "one failure identity" rule the TLS core is
// built around.
package pirerr

import "fmt"

// Platform identifies which layer produced a Code.
type Platform uint8

const (
	// Runtime means Code is one of the Code constants below.
	Runtime Platform = iota
	// Windows means Code holds a raw NTSTATUS value.
	Windows
	// Posix means Code holds a raw errno value.
	Posix
	// Uefi means Code holds a raw EFI_STATUS value.
	Uefi
)

// Code enumerates pirtls failure sites, one value per named failure site.
type Code uint32

const (
	None Code = 0

	// Socket errors.
	SocketOpenFailed  Code = 6
	SocketCloseFailed Code = 7
	SocketReadFailed  Code = 11
	SocketWriteFailed Code = 15

	// TLS client errors.
	TlsOpenFailedSocket     Code = 16
	TlsOpenFailedHandshake  Code = 17
	TlsCloseFailedSocket    Code = 18
	TlsReadFailedNotReady   Code = 19
	TlsReadFailedReceive    Code = 20
	TlsWriteFailedNotReady  Code = 21
	TlsWriteFailedSend      Code = 22
	TlsSendPacketFailed     Code = 74
	TlsClientHelloFailed    Code = 75
	TlsServerHelloFailed    Code = 76
	TlsServerHelloDoneFailed Code = 77
	TlsServerFinishedFailed Code = 78
	TlsVerifyFinishedFailed Code = 79
	TlsClientExchangeFailed Code = 80
	TlsClientFinishedFailed Code = 81
	TlsChangeCipherSpecFailed Code = 82
	TlsProcessReceiveFailed Code = 83
	TlsOnPacketFailed       Code = 84
	TlsReadFailedChannel    Code = 85
	TlsCreateFailed         Code = 102

	// Crypto errors.
	EccInitFailed         Code = 60
	EccExportKeyFailed    Code = 61
	EccSharedSecretFailed Code = 62
	ChaCha20DecodeFailed      Code = 63
	ChaCha20GenerateKeyFailed Code = 64

	// Record cipher / key schedule errors.
	TlsCipherComputePublicKeyFailed Code = 70
	TlsCipherComputePreKeyFailed    Code = 71
	TlsCipherComputeKeyFailed       Code = 72
	TlsCipherDecodeFailed           Code = 73

	// DNS errors.
	DnsConnectFailed  Code = 33
	DnsQueryFailed    Code = 34
	DnsSendFailed     Code = 35
	DnsResponseFailed Code = 36
	DnsParseFailed    Code = 37
	DnsResolveFailed  Code = 38

	// Minimal DoH HTTP framing errors.
	HttpReadFailed            Code = 42
	HttpWriteFailed           Code = 43
	HttpSendGetFailed         Code = 44
	HttpSendPostFailed        Code = 45
	HttpReadHeadersFailedRead   Code = 46
	HttpReadHeadersFailedStatus Code = 47
)

// Error is the single concrete error type returned by pirtls. It carries
// exactly one failure identity: a Code plus the Platform that produced it.
type Error struct {
	Code     Code
	Platform Platform
}

// New constructs a Runtime-tagged Error.
func New(code Code) *Error {
	return &Error{Code: code, Platform: Runtime}
}

// FromWindows constructs a Windows-tagged Error from a raw NTSTATUS value.
func FromWindows(ntstatus uint32) *Error {
	return &Error{Code: Code(ntstatus), Platform: Windows}
}

// FromPosix constructs a Posix-tagged Error from a raw errno value.
func FromPosix(errnoVal uint32) *Error {
	return &Error{Code: Code(errnoVal), Platform: Posix}
}

// FromUefi constructs a Uefi-tagged Error from a raw EFI_STATUS value.
func FromUefi(status uint32) *Error {
	return &Error{Code: Code(status), Platform: Uefi}
}

// Wrap collapses a lower-level failure into the given outer Code. The
// inner error's Platform tag is preserved when inner is itself a *Error;
// otherwise the result is tagged Runtime: propagation keeps the origin tag
// and replaces the site.
func Wrap(inner error, outer Code) *Error {
	if pe, ok := inner.(*Error); ok {
		return &Error{Code: outer, Platform: pe.Platform}
	}
	return &Error{Code: outer, Platform: Runtime}
}

func (e *Error) Error() string {
	switch e.Platform {
	case Windows:
		return fmt.Sprintf("0x%08X [W]", uint32(e.Code))
	case Uefi:
		return fmt.Sprintf("0x%08X [U]", uint32(e.Code))
	case Posix:
		return fmt.Sprintf("%d [P]", uint32(e.Code))
	default:
		return fmt.Sprintf("%d", uint32(e.Code))
	}
}

// Is lets errors.Is match on Code alone, ignoring Platform, since a single
// failure site always surfaces under one Code regardless of which OS layer
// ultimately produced it.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}
