package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Exchange suffixes used by Yahoo symbols.
var exchangeSuffix = map[string]string{
	"ASX": ".AX",
}

// UniverseTicker is one entry of the ticker universe file.
type UniverseTicker struct {
	Symbol         string `yaml:"symbol"`
	Exchange       string `yaml:"exchange"`
	ProviderSymbol string `yaml:"provider_symbol"`
}

// Universe is the set of tickers kept up to date by `update` and `schedule`.
//
//	tickers:
//	  - symbol: AAPL
//	  - symbol: BHP
//	    exchange: ASX
//	  - symbol: "005930"
//	fx: AUDUSD=X
type Universe struct {
	Tickers []UniverseTicker `yaml:"tickers"`
	FX      string           `yaml:"fx"`
}

// LoadUniverse reads and normalises a universe file.
func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	return ParseUniverse(data)
}

// ParseUniverse parses universe YAML. Symbols are upper-cased and entries
// without a symbol are rejected.
func ParseUniverse(data []byte) (*Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}

	for i := range u.Tickers {
		t := &u.Tickers[i]
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		t.Exchange = strings.ToUpper(strings.TrimSpace(t.Exchange))
		t.ProviderSymbol = strings.TrimSpace(t.ProviderSymbol)
		if t.Symbol == "" {
			return nil, fmt.Errorf("universe entry %d has no symbol", i)
		}
	}
	u.FX = strings.ToUpper(strings.TrimSpace(u.FX))
	return &u, nil
}

// Symbols returns the ticker symbols followed by the FX symbol, if any.
func (u *Universe) Symbols() []string {
	out := make([]string, 0, len(u.Tickers)+1)
	for _, t := range u.Tickers {
		out = append(out, t.Symbol)
	}
	if u.FX != "" {
		out = append(out, u.FX)
	}
	return out
}

// ProviderSymbols maps symbols to the symbol the per-ticker provider expects:
// an explicit provider_symbol, else the exchange suffix, else nothing.
func (u *Universe) ProviderSymbols() map[string]string {
	out := make(map[string]string)
	for _, t := range u.Tickers {
		switch {
		case t.ProviderSymbol != "":
			out[t.Symbol] = t.ProviderSymbol
		case exchangeSuffix[t.Exchange] != "" && !strings.HasSuffix(t.Symbol, exchangeSuffix[t.Exchange]):
			out[t.Symbol] = t.Symbol + exchangeSuffix[t.Exchange]
		}
	}
	return out
}
