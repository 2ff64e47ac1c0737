package symbol

import "strings"

// Symbol 表示一个交易对的基础币/计价币。
type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回带分隔符的内部格式，如 "BTC/USDT"。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact 返回交易所紧凑格式，如 "BTCUSDT"。
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 解析 "BTC/USDT"、"BTCUSDT"、"BTC/USDT:USDT" 等写法。
// 无法识别计价币时返回零值。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	quoteCurrencies := []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}

	return Symbol{}
}

// Canonical 把任意写法规整为存储与请求使用的紧凑大写格式。
// 解析失败时退化为去分隔符的大写串，保证已有数据仍可读。
func Canonical(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Compact()
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, ":", "")
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
