package blkcodec

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultPoolKeys     = 16
	maxIdlePerKey       = 64
	noDictionaryPoolKey = "none"
)

type poolKey struct {
	dict  string
	limit int
}

// DecoderPool keeps idle decoders per (dictionary, limit) so that batch runs
// over containers sharing a dictionary do not rebuild zstd contexts. A
// decoder is owned by exactly one caller between Acquire and Release.
type DecoderPool struct {
	mu    sync.Mutex
	idle  *lru.Cache[poolKey, []*Decoder]
	limit int
}

// NewDecoderPool creates a pool whose decoders enforce maxOutput.
func NewDecoderPool(maxOutput int) *DecoderPool {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputSize
	}
	cache, err := lru.NewWithEvict[poolKey, []*Decoder](defaultPoolKeys, func(_ poolKey, decs []*Decoder) {
		for _, d := range decs {
			d.Close()
		}
	})
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &DecoderPool{idle: cache, limit: maxOutput}
}

func (p *DecoderPool) key(dict *Dictionary) poolKey {
	k := poolKey{dict: noDictionaryPoolKey, limit: p.limit}
	if dict != nil {
		k.dict = dict.Digest.String()
	}
	return k
}

// Acquire returns a decoder bound to dict, reusing an idle one if possible.
func (p *DecoderPool) Acquire(dict *Dictionary) (*Decoder, error) {
	k := p.key(dict)

	p.mu.Lock()
	if decs, ok := p.idle.Get(k); ok && len(decs) > 0 {
		d := decs[len(decs)-1]
		p.idle.Add(k, decs[:len(decs)-1])
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	return NewDecoder(dict, p.limit)
}

// Release hands d back to the pool.
func (p *DecoderPool) Release(d *Decoder) {
	if d == nil {
		return
	}
	k := p.key(d.dict)

	p.mu.Lock()
	defer p.mu.Unlock()

	decs, _ := p.idle.Get(k)
	if len(decs) >= maxIdlePerKey {
		d.Close()
		return
	}
	p.idle.Add(k, append(decs, d))
}

// Close releases every idle decoder.
func (p *DecoderPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle.Purge()
}
