package heapfile

import "github.com/pkg/errors"

var (
	// ErrMalformed is returned when the snapshot bytes violate the container
	// grammar.
	ErrMalformed = errors.New("malformed snapshot")

	// ErrUnsupportedVersion is returned when the container version is newer
	// than this implementation supports.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

func malformed(msg string) error {
	return errors.Wrap(ErrMalformed, msg)
}

func malformedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}
