package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"crypto_dashboard/models"

	"github.com/shopspring/decimal"
)

var funcs = template.FuncMap{
	"usd":     FormatUSD,
	"percent": FormatPercent,
	"gain": func(d decimal.Decimal) bool {
		return !d.IsNegative()
	},
}

var summaryHTML = template.Must(template.New("summary").Funcs(funcs).Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
.header { color: #2c3e50; border-bottom: 2px solid #3498db; padding-bottom: 10px; }
.crypto-table { width: 100%; border-collapse: collapse; margin-top: 20px; }
.crypto-table th, .crypto-table td { padding: 12px; text-align: left; border-bottom: 1px solid #ddd; }
.crypto-table th { background-color: #f8f9fa; font-weight: bold; }
.positive { color: #28a745; }
.negative { color: #dc3545; }
.rank { font-weight: bold; color: #6c757d; }
.footer { margin-top: 30px; font-size: 12px; color: #6c757d; }
</style>
</head>
<body>
<div class="header">
<h1>Daily Cryptocurrency Dashboard</h1>
<p>Top {{ len .Quotes }} Cryptocurrencies by Market Cap - {{ .Date }}</p>
</div>
<table class="crypto-table">
<thead>
<tr><th>Rank</th><th>Name</th><th>Symbol</th><th>Price (USD)</th><th>24h Change</th><th>Market Cap</th><th>Volume (24h)</th></tr>
</thead>
<tbody>
{{- range .Quotes }}
<tr>
<td class="rank">#{{ .MarketCapRank }}</td>
<td><strong>{{ .Name }}</strong></td>
<td>{{ .Symbol }}</td>
<td>${{ usd .PriceUSD 4 }}</td>
<td class="{{ if gain .PriceChange24hPercent }}positive{{ else }}negative{{ end }}">{{ percent .PriceChange24hPercent }}</td>
<td>${{ usd .MarketCapUSD 0 }}</td>
<td>${{ usd .Volume24hUSD 0 }}</td>
</tr>
{{- end }}
</tbody>
</table>
<div class="footer">
<p>Data provided by CoinGecko API</p>
<p>This is an automated email from your Crypto Dashboard application.</p>
</div>
</body>
</html>
`))

var errorHTML = template.Must(template.New("error").Parse(`<html>
<body>
<h2>Crypto Dashboard Error Alert</h2>
<p><strong>Time:</strong> {{ .Time }}</p>
<p><strong>Error:</strong></p>
<pre>{{ .Message }}</pre>
<p>Please check the application logs for more details.</p>
</body>
</html>
`))

// RenderSummaryHTML renders the daily summary email body
func RenderSummaryHTML(quotes []models.Quote, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := summaryHTML.Execute(&buf, map[string]interface{}{
		"Quotes": quotes,
		"Date":   now.Format("January 02, 2006"),
	})
	if err != nil {
		return "", fmt.Errorf("render summary html: %w", err)
	}
	return buf.String(), nil
}

// RenderSummaryText renders the plain-text alternative of the summary
func RenderSummaryText(quotes []models.Quote, now time.Time) string {
	var b strings.Builder
	b.WriteString("Daily Cryptocurrency Dashboard\n")
	fmt.Fprintf(&b, "Top %d Cryptocurrencies by Market Cap - %s\n\n", len(quotes), now.Format("January 02, 2006"))
	b.WriteString("Rank | Name           | Symbol | Price (USD)     | 24h Change | Market Cap          | Volume (24h)\n")
	b.WriteString("-----|----------------|--------|-----------------|------------|---------------------|------------------\n")
	for _, q := range quotes {
		fmt.Fprintf(&b, "%4d | %-14s | %-6s | $%14s | %10s | $%18s | $%16s\n",
			q.MarketCapRank,
			clip(q.Name, 14),
			clip(q.Symbol, 6),
			FormatUSD(q.PriceUSD, 4),
			FormatPercent(q.PriceChange24hPercent),
			FormatUSD(q.MarketCapUSD, 0),
			FormatUSD(q.Volume24hUSD, 0),
		)
	}
	b.WriteString("\nData provided by CoinGecko API\n")
	b.WriteString("This is an automated email from your Crypto Dashboard application.\n")
	return b.String()
}

func RenderErrorHTML(message string, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := errorHTML.Execute(&buf, map[string]string{
		"Time":    now.UTC().Format("2006-01-02 15:04:05 UTC"),
		"Message": message,
	})
	if err != nil {
		return "", fmt.Errorf("render error html: %w", err)
	}
	return buf.String(), nil
}

func RenderErrorText(message string, now time.Time) string {
	return fmt.Sprintf("Crypto Dashboard Error Alert\n\nTime: %s\nError: %s\n\nPlease check the application logs for more details.\n",
		now.UTC().Format("2006-01-02 15:04:05 UTC"), message)
}

// FormatUSD renders d with a fixed number of decimals and thousands separators
func FormatUSD(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}

// FormatPercent renders a signed percentage with two decimals, e.g. "+1.25%"
func FormatPercent(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !d.IsNegative() {
		s = "+" + s
	}
	return s + "%"
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
