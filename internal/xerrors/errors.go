// Package xerrors holds the sentinel error taxonomy shared by every
// component, mirroring how the teacher wraps low-level errors with
// fmt.Errorf("...: %w", err) rather than inventing per-call-site error
// types. Callers can use errors.Is against these sentinels to tell which
// kind of failure occurred.
package xerrors

import "errors"

var (
	// TransportError indicates a TCP dial/read/write or HTTP transport
	// failure. Retryable in the downloader; fatal in the handshake.
	TransportError = errors.New("transport error")

	// BadFrame indicates a wrong magic, truncated frame, or a length
	// exceeding the available payload while framing/unframing a DML
	// packet. Always fatal.
	BadFrame = errors.New("bad frame")

	// UnknownService indicates a DML svc_id with no entry in the catalog.
	UnknownService = errors.New("unknown service")

	// UnknownMessage indicates a DML msg_type with no entry in the
	// resolved service.
	UnknownMessage = errors.New("unknown message")

	// UnsupportedType indicates a field typename outside TypeSet.
	UnsupportedType = errors.New("unsupported type")

	// CorruptArchive indicates an archive header/entry table mismatch or
	// a zlib inflate failure.
	CorruptArchive = errors.New("corrupt archive")

	// CorruptManifest indicates the TableList binary layout didn't match
	// what the parser expected.
	CorruptManifest = errors.New("corrupt manifest")

	// AuthRejected indicates the login handshake was refused: the server
	// returned an empty Rec1 (with or without a Reason field), or a
	// missing, unparseable or zero UserID.
	AuthRejected = errors.New("auth rejected")

	// FilesystemError indicates a worker couldn't create a directory or
	// write a file. Fatal to the offending worker, not to its siblings.
	FilesystemError = errors.New("filesystem error")
)
