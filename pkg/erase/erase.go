package erase

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/sys/unix"

	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
)

const (
	// headTailSize is how much of the device head and tail the quick wipe
	// zeroes. Enough to destroy partition tables, LUKS headers and
	// filesystem superblocks including GPT backup structures.
	headTailSize = 10 * 1024 * 1024

	// fastPassSize is the zero pass at the start of a secure wipe. Small
	// on purpose: it fails fast if the device is not writable at all.
	fastPassSize = 100 * 1024 * 1024

	chunkSize = 4 * 1024 * 1024
)

// Run destroys prior on-disk signatures on the device. Writes that run past
// the end of the device are expected and swallowed, anything else surfaces.
// Buffers are forced to media before returning so the partitioner never
// reads stale data.
func Run(devicePath string, mode config.EraseMode) error {
	f, err := os.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s for erasure: %w", devicePath, err)
	}
	defer f.Close()

	size, err := deviceSize(f)
	if err != nil {
		return fmt.Errorf("sizing %s: %w", devicePath, err)
	}
	utils.Log.Info().Str("device", devicePath).Uint64("size", size).Str("mode", string(mode)).Msg("Erasing device")

	switch mode {
	case config.EraseSecure:
		err = secureWipe(f, size)
	default:
		err = quickWipe(f, size)
	}
	if err != nil {
		return err
	}

	return syncDevice(f)
}

// deviceSize returns the size of the underlying block device (or regular
// file, which the tests use).
func deviceSize(f *os.File) (uint64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return uint64(size), nil
}

// quickWipe zeroes the head and tail of the device.
func quickWipe(f *os.File, size uint64) error {
	head := min(headTailSize, size)
	if err := writeZeros(f, 0, head); err != nil {
		return fmt.Errorf("wiping device head: %w", err)
	}
	if size > headTailSize {
		if err := writeZeros(f, int64(size-headTailSize), headTailSize); err != nil {
			return fmt.Errorf("wiping device tail: %w", err)
		}
	}
	return nil
}

// secureWipe is the two pass full overwrite. Pass one zeroes the start of
// the device, pass two streams a keyed ChaCha20 keystream over the rest.
// The ephemeral key only exists to generate high-entropy filler cheaply and
// is discarded with this stack frame.
func secureWipe(f *os.File, size uint64) error {
	fast := min(fastPassSize, size)
	if err := writeZeros(f, 0, fast); err != nil {
		return fmt.Errorf("secure wipe zero pass: %w", err)
	}
	if err := syncDevice(f); err != nil {
		return err
	}

	if size <= fast {
		return nil
	}

	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating wipe key: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating wipe nonce: %w", err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return fmt.Errorf("initializing wipe cipher: %w", err)
	}

	zeros := make([]byte, chunkSize)
	buf := make([]byte, chunkSize)
	offset := int64(fast)
	remaining := size - fast
	for remaining > 0 {
		n := uint64(chunkSize)
		if remaining < n {
			n = remaining
		}
		stream.XORKeyStream(buf[:n], zeros[:n])
		_, err := f.WriteAt(buf[:n], offset)
		if err != nil {
			if benignOverrun(err) {
				utils.Log.Debug().Int64("offset", offset).Msg("Reached end of device, stopping wipe")
				break
			}
			return fmt.Errorf("secure wipe random pass at offset %d: %w", offset, err)
		}
		offset += int64(n)
		remaining -= n
	}
	return nil
}

// writeZeros writes length zero bytes starting at offset.
func writeZeros(f *os.File, offset int64, length uint64) error {
	zeros := make([]byte, chunkSize)
	for length > 0 {
		n := uint64(chunkSize)
		if length < n {
			n = length
		}
		written, err := f.WriteAt(zeros[:n], offset)
		if err != nil {
			if benignOverrun(err) {
				utils.Log.Debug().Int64("offset", offset).Msg("Reached end of device, stopping zero fill")
				return nil
			}
			return err
		}
		offset += int64(written)
		length -= uint64(written)
	}
	return nil
}

// benignOverrun reports whether the write error just means we ran past the
// end of the device. The goal of erasure is destroying signatures, not
// filling the disk, so these are swallowed. Checked structurally, not by
// matching error text.
func benignOverrun(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, io.ErrShortWrite)
}

// syncDevice forces written buffers to physical media. Skipping this before
// partitioning risks partition table corruption.
func syncDevice(f *os.File) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing device: %w", err)
	}
	unix.Sync()
	return nil
}
