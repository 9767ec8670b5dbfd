package models

import "net/url"

// Publication is one news site checked by every audit.
type Publication struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// DefaultPublications is the fixed, ordered publication list. Its order is
// the audit's iteration order and its length is totalPublications.
var DefaultPublications = []Publication{
	{Domain: "finance.yahoo.com", Name: "Yahoo Finance"},
	{Domain: "tradingview.com", Name: "TradingView"},
	{Domain: "marketwatch.com", Name: "MarketWatch"},
	{Domain: "apnews.com", Name: "AP News"},
	{Domain: "morningstar.com", Name: "Morningstar"},
	{Domain: "globenewswire.com", Name: "GlobeNewswire"},
	{Domain: "markets.businessinsider.com", Name: "Business Insider"},
	{Domain: "ktla.com", Name: "KTLA"},
	{Domain: "fox8.com", Name: "Fox 8"},
	{Domain: "wgntv.com", Name: "WGN TV"},
	{Domain: "kxan.com", Name: "KXAN"},
	{Domain: "woodtv.com", Name: "Wood TV"},
	{Domain: "fox59.com", Name: "Fox 59"},
	{Domain: "manilatimes.net", Name: "Manila Times"},
	{Domain: "abc27.com", Name: "ABC 27"},
	{Domain: "8newsnow.com", Name: "8 News Now"},
	{Domain: "kron4.com", Name: "KRON 4"},
	{Domain: "kdvr.com", Name: "KDVR"},
	{Domain: "wkbn.com", Name: "WKBN"},
	{Domain: "wavy.com", Name: "WAVY"},
	{Domain: "fox5sandiego.com", Name: "Fox 5 San Diego"},
	{Domain: "wric.com", Name: "WRIC"},
	{Domain: "wkrn.com", Name: "WKRN"},
	{Domain: "fox2now.com", Name: "Fox 2 Now"},
	{Domain: "localsyr.com", Name: "Local SYR"},
	{Domain: "wane.com", Name: "WANE"},
	{Domain: "pix11.com", Name: "PIX11"},
	{Domain: "keloland.com", Name: "KELOLAND"},
	{Domain: "wwlp.com", Name: "WWLP"},
	{Domain: "koin.com", Name: "KOIN"},
}

// FaviconURL is the logo shown next to a publication's result.
func FaviconURL(domain string) string {
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(domain) + "&sz=32"
}

// Batches splits pubs into consecutive chunks of at most size entries.
func Batches(pubs []Publication, size int) [][]Publication {
	if size <= 0 {
		size = len(pubs)
	}
	var out [][]Publication
	for start := 0; start < len(pubs); start += size {
		end := min(start+size, len(pubs))
		out = append(out, pubs[start:end])
	}
	return out
}
