package cache

// ScopedKeyer prefixes every key, isolating hosting accounts that share a
// second-tier backend.
//
//	keyer := cache.NewScopedKeyer(nil, "acct:"+limits.CloudName+":")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer wraps inner (DefaultKeyer when nil) with prefix.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

func (k *ScopedKeyer) ImageKey(opts ImageKeyOpts) string {
	return k.prefix + k.inner.ImageKey(opts)
}

// ScaledKey does not re-prefix: imageKey already carries the scope.
func (k *ScopedKeyer) ScaledKey(imageKey string, opts ScaledKeyOpts) string {
	return k.inner.ScaledKey(imageKey, opts)
}

func (k *ScopedKeyer) BackgroundKey(url string) string {
	return k.prefix + k.inner.BackgroundKey(url)
}
