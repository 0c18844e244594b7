package codec

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu            sync.RWMutex
	videoEncoders = make(map[string]VideoEncoderBuilder)
)

// Register makes builder available under name, replacing any previous builder
// with the same name.
func Register(name string, builder VideoEncoderBuilder) {
	mu.Lock()
	defer mu.Unlock()

	videoEncoders[name] = builder
}

// Lookup returns the builder registered under name.
func Lookup(name string) (VideoEncoderBuilder, error) {
	mu.RLock()
	defer mu.RUnlock()

	b, ok := videoEncoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoder, name)
	}
	return b, nil
}

// Names lists the registered encoders in lexical order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(videoEncoders))
	for name := range videoEncoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
