package pairs

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lp-rfq/internal/quote"
)

// Pair 描述单个交易对的静态参数。
type Pair struct {
	Symbol           string            `yaml:"symbol"`
	BaseAsset        string            `yaml:"base_asset"`
	QuoteAsset       string            `yaml:"quote_asset"`
	BaseDecimals     int32             `yaml:"base_decimals"`
	QuoteDecimals    int32             `yaml:"quote_decimals"`
	MinAmount        decimal.Decimal   `yaml:"min_amount"`
	DefaultMarkupBps decimal.Decimal   `yaml:"default_markup_bps"`
	ProfitAsset      quote.ProfitAsset `yaml:"profit_asset"`
}

// Decimals 返回资产的小数位数。
func (p Pair) Decimals(asset string) (int32, error) {
	switch asset {
	case p.BaseAsset:
		return p.BaseDecimals, nil
	case p.QuoteAsset:
		return p.QuoteDecimals, nil
	default:
		return 0, fmt.Errorf("pairs: 资产 %s 不属于 %s", asset, p.Symbol)
	}
}

// RoundUp 按资产精度向上取整，用于客户支付的一侧。
func (p Pair) RoundUp(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	places, err := p.Decimals(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundCeil(places), nil
}

// RoundDown 按资产精度向下截断，用于客户收到的一侧。
func (p Pair) RoundDown(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	places, err := p.Decimals(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundFloor(places), nil
}

// Format 按资产精度输出定长字符串。
func (p Pair) Format(asset string, amount decimal.Decimal) string {
	places, err := p.Decimals(asset)
	if err != nil {
		return amount.String()
	}
	return amount.StringFixed(places)
}

func (p Pair) validate() error {
	if p.BaseAsset == "" || p.QuoteAsset == "" {
		return fmt.Errorf("pairs: %s 缺少 base/quote 资产", p.Symbol)
	}
	if p.BaseDecimals < 0 || p.QuoteDecimals < 0 {
		return fmt.Errorf("pairs: %s 小数位不能为负", p.Symbol)
	}
	if !p.ProfitAsset.Valid() {
		return fmt.Errorf("pairs: %s profit_asset 非法 %q", p.Symbol, p.ProfitAsset)
	}
	if p.DefaultMarkupBps.IsNegative() {
		return fmt.Errorf("pairs: %s default_markup_bps 不能为负", p.Symbol)
	}
	return nil
}

// Registry 为只读交易对目录。
type Registry struct {
	pairs map[string]Pair
}

// NewRegistry 构造目录，交易对代码统一为大写。
func NewRegistry(list ...Pair) (*Registry, error) {
	r := &Registry{pairs: make(map[string]Pair, len(list))}
	for _, p := range list {
		p.BaseAsset = strings.ToUpper(p.BaseAsset)
		p.QuoteAsset = strings.ToUpper(p.QuoteAsset)
		if p.Symbol == "" {
			p.Symbol = p.BaseAsset + p.QuoteAsset
		}
		p.Symbol = strings.ToUpper(p.Symbol)
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.pairs[p.Symbol]; dup {
			return nil, fmt.Errorf("pairs: 重复的交易对 %s", p.Symbol)
		}
		r.pairs[p.Symbol] = p
	}
	return r, nil
}

// Lookup 按 base+quote 查找交易对。
func (r *Registry) Lookup(base, quoteAsset string) (Pair, error) {
	return r.Get(base + quoteAsset)
}

// Get 按交易对代码查找。
func (r *Registry) Get(symbol string) (Pair, error) {
	p, ok := r.pairs[strings.ToUpper(symbol)]
	if !ok {
		return Pair{}, fmt.Errorf("%w: %s (supported: %s)", quote.ErrUnsupportedPair, symbol, strings.Join(r.Symbols(), ", "))
	}
	return p, nil
}

// Symbols 返回排序后的交易对代码。
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.pairs))
	for s := range r.pairs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Defaults 返回内置交易对。
func Defaults() []Pair {
	return []Pair{
		{
			Symbol:           "BTCUSDT",
			BaseAsset:        "BTC",
			QuoteAsset:       "USDT",
			BaseDecimals:     5,
			QuoteDecimals:    2,
			MinAmount:        decimal.RequireFromString("0.001"),
			DefaultMarkupBps: decimal.NewFromInt(5),
			ProfitAsset:      quote.ProfitQuote,
		},
		{
			Symbol:           "ETHUSDT",
			BaseAsset:        "ETH",
			QuoteAsset:       "USDT",
			BaseDecimals:     4,
			QuoteDecimals:    2,
			MinAmount:        decimal.RequireFromString("0.01"),
			DefaultMarkupBps: decimal.NewFromInt(5),
			ProfitAsset:      quote.ProfitQuote,
		},
		{
			// 稳定币对加点更低
			Symbol:           "USDCUSDT",
			BaseAsset:        "USDC",
			QuoteAsset:       "USDT",
			BaseDecimals:     2,
			QuoteDecimals:    4,
			MinAmount:        decimal.NewFromInt(10),
			DefaultMarkupBps: decimal.NewFromInt(3),
			ProfitAsset:      quote.ProfitQuote,
		},
	}
}

type catalogue struct {
	Pairs []Pair `yaml:"pairs"`
}

// Load 读取 YAML 交易对目录；path 为空时使用内置目录。
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(Defaults()...)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pairs: 读取目录文件失败: %w", err)
	}

	var c catalogue
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("pairs: 解析目录文件失败: %w", err)
	}
	if len(c.Pairs) == 0 {
		return nil, fmt.Errorf("pairs: 目录文件 %q 未定义任何交易对", path)
	}

	return NewRegistry(c.Pairs...)
}
