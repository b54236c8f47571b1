// Package store is a registry of bsv.Store implementations.
// Each implementation registers itself under a name in its init function,
// and Create builds one from a configuration map
// such as the "store" section of a config file.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/bsv"
)

// Factory builds a Store from its configuration parameters.
type Factory func(context.Context, map[string]interface{}) (bsv.Store, error)

var (
	mu       sync.Mutex
	registry = make(map[string]Factory)
)

// Register makes a Factory available to Create under the given key.
func Register(key string, f Factory) {
	mu.Lock()
	registry[key] = f
	mu.Unlock()
}

// Create builds the Store registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (bsv.Store, error) {
	mu.Lock()
	f, ok := registry[key]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// FromConfig builds a Store from a map whose "type" entry names the registered Factory.
func FromConfig(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`missing "type" parameter`)
	}
	return Create(ctx, typ, conf)
}

// Keys lists the registered store types in sorted order.
func Keys() []string {
	mu.Lock()
	defer mu.Unlock()

	result := make([]string, 0, len(registry))
	for k := range registry {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Nested builds the Store described by the map in conf[key].
// Wrapping stores (caches, compressors, loggers) use it for the store they wrap.
func Nested(ctx context.Context, conf map[string]interface{}, key string) (bsv.Store, error) {
	nested, ok := conf[key].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing %q parameter`, key)
	}
	s, err := FromConfig(ctx, nested)
	return s, errors.Wrapf(err, "creating %s store", key)
}

// String gets a required string parameter.
func String(conf map[string]interface{}, key string) (string, error) {
	s, ok := conf[key].(string)
	if !ok {
		return "", fmt.Errorf(`missing %q parameter`, key)
	}
	return s, nil
}

// Int gets an optional integer parameter.
// Config decoders disagree on the type of a number
// (JSON gives float64 or json.Number, TOML gives int64),
// so any numeric type is accepted.
func Int(conf map[string]interface{}, key string, dflt int) (int, error) {
	v, ok := conf[key]
	if !ok {
		return dflt, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "parameter %q", key)
		}
		return int(i), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("parameter %q: %v is not an integer", key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("parameter %q: %v is not a number", key, v)
}
