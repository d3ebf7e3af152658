// Package providers wires the source adapters into the search registry.
package providers

import (
	"fmt"
	"sort"
	"strings"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/applemusic"
	"mediastream/discoveryservice/internal/providers/common"
	"mediastream/discoveryservice/internal/providers/douban"
	"mediastream/discoveryservice/internal/providers/netflix"
	"mediastream/discoveryservice/internal/providers/spotify"
	"mediastream/discoveryservice/internal/providers/tmdb"
	"mediastream/discoveryservice/internal/search"
)

type constructor func(domain.ProviderConfig, common.Deps) (search.Provider, error)

var constructors = map[string]constructor{
	"tmdb": func(cfg domain.ProviderConfig, deps common.Deps) (search.Provider, error) {
		return tmdb.New(cfg, deps)
	},
	"douban": func(cfg domain.ProviderConfig, deps common.Deps) (search.Provider, error) {
		return douban.New(cfg, deps)
	},
	"spotify": func(cfg domain.ProviderConfig, deps common.Deps) (search.Provider, error) {
		return spotify.New(cfg, deps)
	},
	"applemusic": func(cfg domain.ProviderConfig, deps common.Deps) (search.Provider, error) {
		return applemusic.New(cfg, deps)
	},
	"netflix": func(cfg domain.ProviderConfig, deps common.Deps) (search.Provider, error) {
		return netflix.New(cfg, deps)
	},
}

// Types lists the adapter types a provider entry may name.
func Types() []string {
	types := make([]string, 0, len(constructors))
	for name := range constructors {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Factory builds adapters by type. An entry without a type uses its name.
func Factory(deps common.Deps) search.ProviderFactory {
	return func(cfg domain.ProviderConfig) (search.Provider, error) {
		kind := strings.ToLower(strings.TrimSpace(cfg.Type))
		if kind == "" {
			kind = cfg.Key()
		}
		build, ok := constructors[kind]
		if !ok {
			return nil, fmt.Errorf("%w: type %q", domain.ErrUnknownProvider, kind)
		}
		provider, err := build(cfg, deps)
		if err != nil {
			return nil, err
		}
		deps.Log().Debug("provider built", "provider", cfg.Key(), "type", kind)
		return provider, nil
	}
}
