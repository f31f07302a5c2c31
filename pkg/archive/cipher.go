package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// ErrNotEncrypted is returned when data is not well-formed AES-CBC
// ciphertext under the configured key.
var ErrNotEncrypted = errors.New("archive: content is not decryptable")

const streamChunk = 32 << 10

// Decrypter reverses the at-rest encryption of file content: a 16-byte IV
// followed by AES-CBC ciphertext with PKCS#7 padding.
type Decrypter struct {
	block cipher.Block
}

// NewDecrypter creates a decrypter for a 16, 24 or 32 byte AES key.
func NewDecrypter(key []byte) (*Decrypter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return &Decrypter{block: block}, nil
}

// Decrypt returns the plaintext of data, or ErrNotEncrypted if the length
// or padding is wrong.
func (d *Decrypter) Decrypt(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if _, err := d.DecryptTo(&out, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecryptTo streams the plaintext of src into dst and returns the number of
// bytes written.
//
// The length and the padding are checked from the final two blocks before
// anything is written, so on ErrNotEncrypted dst is untouched and src is
// rewound to its start.
func (d *Decrypter) DecryptTo(dst io.Writer, src io.ReadSeeker) (int64, error) {
	bs := int64(d.block.BlockSize())

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	plain, ok, err := d.plainSize(src, size)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotEncrypted
	}

	iv := make([]byte, bs)
	if _, err := io.ReadFull(src, iv); err != nil {
		return 0, err
	}
	mode := cipher.NewCBCDecrypter(d.block, iv)

	body := io.LimitReader(src, size-bs)
	buf := make([]byte, streamChunk)
	remaining := plain
	var written int64
	for remaining > 0 {
		n, err := io.ReadFull(body, buf)
		if n%int(bs) != 0 || (n == 0 && err != nil) {
			return written, fmt.Errorf("ciphertext truncated: %w", io.ErrUnexpectedEOF)
		}
		mode.CryptBlocks(buf[:n], buf[:n])
		chunk := min(int64(n), remaining)
		w, werr := dst.Write(buf[:chunk])
		written += int64(w)
		if werr != nil {
			return written, werr
		}
		remaining -= chunk
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return written, err
		}
	}
	return written, nil
}

// plainSize decrypts the last block of a size-byte ciphertext and derives
// the plaintext length from its padding. ok is false when the framing is
// wrong.
func (d *Decrypter) plainSize(src io.ReadSeeker, size int64) (n int64, ok bool, err error) {
	bs := int64(d.block.BlockSize())
	if size < 2*bs || size%bs != 0 {
		return 0, false, nil
	}

	if _, err := src.Seek(size-2*bs, io.SeekStart); err != nil {
		return 0, false, err
	}
	tail := make([]byte, 2*bs)
	if _, err := io.ReadFull(src, tail); err != nil {
		return 0, false, err
	}
	last := tail[bs:]
	cipher.NewCBCDecrypter(d.block, tail[:bs]).CryptBlocks(last, last)

	pad := int64(last[bs-1])
	if pad == 0 || pad > bs {
		return 0, false, nil
	}
	if !bytes.Equal(last[bs-pad:], bytes.Repeat([]byte{byte(pad)}, int(pad))) {
		return 0, false, nil
	}
	return size - bs - pad, true, nil
}
