package codec

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

// WriteHeader writes the signature, process arguments and header at the beginning of the log.
func WriteHeader(w *Writer, args []string, header types.Header) error {
	var sb strings.Builder
	sb.WriteString(types.Signature)
	for i, arg := range args {
		if strings.ContainsAny(arg, "\t\n\x00") {
			return errors.Errorf("argument %d contains a character reserved by the log format", i)
		}
		sb.WriteByte('\t')
		sb.WriteString(arg)
	}
	sb.WriteString("\n\x00")

	header.Argc = uint64(len(args))
	if err := w.WriteRaw([]byte(sb.String())); err != nil {
		return err
	}
	return w.WriteRaw(photon.NewFromValue(&header).B)
}

// ReadHeader reads the signature, process arguments and header from the beginning of the log.
func ReadHeader(r *Reader) ([]string, types.Header, error) {
	signature := make([]byte, len(types.Signature))
	if err := r.ReadRaw(signature); err != nil {
		return nil, types.Header{}, err
	}
	if string(signature) != types.Signature {
		return nil, types.Header{}, errors.New("file is not a revdb log")
	}

	var sb strings.Builder
	var c [1]byte
	for {
		if err := r.ReadRaw(c[:]); err != nil {
			return nil, types.Header{}, err
		}
		if c[0] == 0 {
			break
		}
		sb.WriteByte(c[0])
	}

	argsText, ok := strings.CutSuffix(sb.String(), "\n")
	if !ok {
		return nil, types.Header{}, errors.New("bad log format: argument list is not terminated")
	}
	var args []string
	if argsText != "" {
		if argsText[0] != '\t' {
			return nil, types.Header{}, errors.New("bad log format: malformed argument list")
		}
		args = strings.Split(argsText[1:], "\t")
	}

	var header types.Header
	if err := r.ReadRaw(photon.NewFromValue(&header).B); err != nil {
		return nil, types.Header{}, err
	}
	if header.Version != types.Version {
		return nil, types.Header{}, errors.Errorf("log version mismatch (got %x, expected %x)", header.Version,
			types.Version)
	}
	if header.Argc != uint64(len(args)) {
		return nil, types.Header{}, errors.Errorf("bad log format: %d arguments stored, header says %d", len(args),
			header.Argc)
	}

	return args, header, nil
}

// ReadTrailer returns the total number of stop points stored as the last value of the log.
func ReadTrailer(store persistent.Store) (types.StopPoint, error) {
	size, err := store.Size()
	if err != nil {
		return 0, err
	}
	if size < types.UInt64Length {
		return 0, errors.WithStack(persistent.ErrTruncated)
	}

	var total types.StopPoint
	if err := store.ReadAt(photon.NewFromValue(&total).B, size-types.UInt64Length); err != nil {
		return 0, err
	}
	return total, nil
}
