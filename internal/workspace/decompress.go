package workspace

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decompress expands a staged .zst or .gz file in place and returns the path
// of the expanded file. Other files are returned unchanged.
func decompress(staged string) (string, error) {
	dst, ext := trimExt(staged, ".zst", ".gz")
	if ext == "" {
		return staged, nil
	}

	in, err := os.Open(staged)
	if err != nil {
		return "", fmt.Errorf("open compressed file: %w", err)
	}
	defer in.Close()

	var r io.Reader
	switch ext {
	case ".zst":
		dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return "", fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	case ".gz":
		gz, err := gzip.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if _, _, err := writeAtomic(dst, r); err != nil {
		return "", fmt.Errorf("decompress %s: %w", ext, err)
	}
	if err := os.Remove(staged); err != nil {
		return "", fmt.Errorf("remove compressed file: %w", err)
	}
	return dst, nil
}
