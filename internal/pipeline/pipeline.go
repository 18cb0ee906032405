// Package pipeline encrypts and decrypts the image data of a PNG file while
// keeping the container valid: IDAT payloads are inflated, run through a block
// cipher, deflated again and re-checksummed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/faanross/pngrsa/internal/blockcipher"
	"github.com/faanross/pngrsa/internal/logging"
	"github.com/faanross/pngrsa/internal/params"
	"github.com/faanross/pngrsa/internal/pngfile"
	"github.com/faanross/pngrsa/internal/rsakey"
	"github.com/faanross/pngrsa/internal/workers"
)

var (
	// ErrKeyNotConfigured is returned when the key lacks the modulus or the
	// exponent the requested direction needs.
	ErrKeyNotConfigured = errors.New("pipeline: key not configured")
	// ErrEmptyPayload is returned when there is no image data, or it
	// inflates to nothing.
	ErrEmptyPayload = errors.New("pipeline: no image data to transform")
)

type direction int

const (
	encrypt direction = iota
	decrypt
)

func (d direction) String() string {
	if d == decrypt {
		return "decrypt"
	}
	return "encrypt"
}

// Result summarizes one pipeline run.
type Result struct {
	RunID       string
	Mode        blockcipher.Mode
	Chunks      int // IDAT chunks transformed
	Merged      int // IDAT chunks folded into the first one before encryption
	InputBytes  int // inflated bytes fed to the cipher
	OutputBytes int // inflated bytes produced by the cipher
	Elapsed     time.Duration
}

// Pipeline holds the cipher and execution settings for Encrypt and Decrypt.
// It is safe for concurrent use; every call allocates its own counter state.
type Pipeline struct {
	cipher  blockcipher.Cipher
	workers int
	log     logrus.FieldLogger
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	workers int
	nonce   *int64
	log     logrus.FieldLogger
}

// WithWorkers bounds the number of chunks transformed at once. n <= 0 uses
// one worker per CPU.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithNonce sets the counter mode starting value.
func WithNonce(nonce int64) Option {
	return func(o *options) { o.nonce = &nonce }
}

// WithLogger routes pipeline logs to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// New creates a pipeline for the given mode.
func New(mode blockcipher.Mode, opts ...Option) (*Pipeline, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var cipherOpts []blockcipher.Option
	if o.nonce != nil {
		cipherOpts = append(cipherOpts, blockcipher.WithNonce(*o.nonce))
	}
	c, err := blockcipher.New(mode, cipherOpts...)
	if err != nil {
		return nil, err
	}

	if o.log == nil {
		o.log = logging.Discard()
	}
	return &Pipeline{cipher: c, workers: o.workers, log: o.log}, nil
}

// Mode returns the block cipher mode in use.
func (p *Pipeline) Mode() blockcipher.Mode {
	return p.cipher.Mode()
}

// Encrypt merges all IDAT chunks into the first one and encrypts its image
// data. img is only modified when the whole run succeeds.
func (p *Pipeline) Encrypt(ctx context.Context, img *pngfile.Image, key *rsakey.KeyPair) (*Result, error) {
	return p.run(ctx, img, key, encrypt)
}

// Decrypt reverses Encrypt. Each IDAT chunk is decrypted on its own.
func (p *Pipeline) Decrypt(ctx context.Context, img *pngfile.Image, key *rsakey.KeyPair) (*Result, error) {
	return p.run(ctx, img, key, decrypt)
}

// Encrypt is a shorthand for New(mode, opts...) followed by Encrypt.
func Encrypt(ctx context.Context, img *pngfile.Image, key *rsakey.KeyPair, mode blockcipher.Mode, opts ...Option) (*Result, error) {
	p, err := New(mode, opts...)
	if err != nil {
		return nil, err
	}
	return p.Encrypt(ctx, img, key)
}

// Decrypt is a shorthand for New(mode, opts...) followed by Decrypt.
func Decrypt(ctx context.Context, img *pngfile.Image, key *rsakey.KeyPair, mode blockcipher.Mode, opts ...Option) (*Result, error) {
	p, err := New(mode, opts...)
	if err != nil {
		return nil, err
	}
	return p.Decrypt(ctx, img, key)
}

type transformed struct {
	chunk  *pngfile.Chunk
	input  int
	output int
}

func (p *Pipeline) run(ctx context.Context, img *pngfile.Image, key *rsakey.KeyPair, dir direction) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.NewString(), Mode: p.Mode()}
	log := p.log.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"mode":      p.Mode().String(),
		"direction": dir.String(),
	})

	if key == nil || key.N() == nil || key.E() == nil {
		return nil, ErrKeyNotConfigured
	}
	if dir == decrypt && p.Mode() == blockcipher.ECB && !key.HasPrivate() {
		return nil, fmt.Errorf("%w: ECB decryption needs the private exponent", ErrKeyNotConfigured)
	}
	if img == nil {
		return nil, ErrEmptyPayload
	}

	chunks, idat, merged, err := locate(img, dir == encrypt)
	if err != nil {
		return nil, err
	}
	result.Merged = merged
	log.WithFields(logrus.Fields{"idat": len(idat), "merged": merged}).Debug("located image data")

	items := make([]*pngfile.Chunk, len(idat))
	for i, pos := range idat {
		items[i] = chunks[pos]
	}

	out, err := workers.Map(ctx, p.workers, items, func(_ context.Context, c *pngfile.Chunk) (transformed, error) {
		return p.transform(c, key, dir)
	})
	if err != nil {
		log.WithError(err).Warn("transform failed, image left unchanged")
		return nil, fmt.Errorf("%s image data: %w", dir, err)
	}

	for i, pos := range idat {
		chunks[pos] = out[i].chunk
		result.InputBytes += out[i].input
		result.OutputBytes += out[i].output
	}
	img.Chunks = chunks

	result.Chunks = len(idat)
	result.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"chunks":       result.Chunks,
		"input_bytes":  result.InputBytes,
		"output_bytes": result.OutputBytes,
		"elapsed":      result.Elapsed,
	}).Info("image data transformed")

	return result, nil
}

// locate returns a working copy of the chunk list and the positions of the
// IDAT chunks in it. When merge is set, every IDAT payload is appended to the
// first one and the rest are dropped.
func locate(img *pngfile.Image, merge bool) ([]*pngfile.Chunk, []int, int, error) {
	var chunks []*pngfile.Chunk
	var idat []int
	var first *pngfile.Chunk
	merged := 0

	for _, c := range img.Chunks {
		if c.Type() != params.TAG_IMAGE_DATA {
			chunks = append(chunks, c)
			continue
		}
		if merge && first != nil {
			first.Data = append(first.Data, c.Data...)
			merged++
			continue
		}
		dup := c.Clone()
		if first == nil {
			first = dup
		}
		idat = append(idat, len(chunks))
		chunks = append(chunks, dup)
	}

	if len(idat) == 0 {
		return nil, nil, 0, fmt.Errorf("%w: image has no %s chunk", ErrEmptyPayload, params.TAG_IMAGE_DATA)
	}
	for _, pos := range idat {
		if len(chunks[pos].Data) == 0 {
			return nil, nil, 0, fmt.Errorf("%w: %s chunk at position %d is empty", ErrEmptyPayload, params.TAG_IMAGE_DATA, pos)
		}
	}
	return chunks, idat, merged, nil
}

// transform inflates one IDAT copy, runs the cipher and packs the result into
// the same copy with length and checksum updated.
func (p *Pipeline) transform(c *pngfile.Chunk, key *rsakey.KeyPair, dir direction) (transformed, error) {
	raw, err := pngfile.Inflate(c.Data)
	if err != nil {
		return transformed{}, err
	}
	if len(raw) == 0 {
		return transformed{}, fmt.Errorf("%w: %s chunk inflates to nothing", ErrEmptyPayload, params.TAG_IMAGE_DATA)
	}

	var data []byte
	if dir == encrypt {
		data, err = p.cipher.Encrypt(key, raw)
	} else {
		data, err = p.cipher.Decrypt(key, raw)
	}
	if err != nil {
		return transformed{}, err
	}

	packed, err := pngfile.Deflate(data)
	if err != nil {
		return transformed{}, err
	}
	c.SetData(packed)

	return transformed{chunk: c, input: len(raw), output: len(data)}, nil
}
