package archive

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

// Pack compresses the log.
func Pack(dst io.Writer, src io.Reader) error {
	encoder, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		_ = encoder.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(encoder.Close())
}

// Unpack decompresses the log. Data not starting with the log signature are rejected.
func Unpack(dst io.Writer, src io.Reader) error {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer decoder.Close()

	signature := make([]byte, len(types.Signature))
	if _, err := io.ReadFull(decoder, signature); err != nil {
		return errors.Wrap(err, "can't read log signature")
	}
	if string(signature) != types.Signature {
		return errors.New("archive does not contain revdb log")
	}
	if _, err := dst.Write(signature); err != nil {
		return errors.WithStack(err)
	}

	_, err = io.Copy(dst, decoder)
	return errors.WithStack(err)
}

// PackFile compresses the log file.
func PackFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WithStack(err)
	}
	defer dst.Close()

	if err := Pack(dst, src); err != nil {
		return err
	}
	return errors.WithStack(dst.Sync())
}

// UnpackFile decompresses the archive into the log file.
func UnpackFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer src.Close()

	dst, err := persistent.CreateFileStore(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := Unpack(dst.File(), src); err != nil {
		return err
	}
	return dst.Sync()
}
