package email

import (
	"fmt"
	"html/template"
	"strings"
)

// Renderer turns structured alert data into (html, text) bodies. Stateless
// apart from the parsed templates.
type Renderer struct {
	baseURL string
	tmpl    *template.Template
}

// DigestArea is one monitored area's entry in a daily digest.
type DigestArea struct {
	AreaName    string
	RiskScore   float64
	RiskLevel   string
	BadgeColor  string
	HighlightBG string
}

// WeeklyArea is one monitored area's entry in a weekly digest.
// Trend is one of up, down, stable.
type WeeklyArea struct {
	AreaName string
	AvgRisk  float64
	Trend    string
}

type WeeklySummary struct {
	AreaCount int
	MaxRisk   float64
}

func NewRenderer(baseURL string) (*Renderer, error) {
	tmpl, err := template.New("email").Parse(immediateAlertHTML)
	if err != nil {
		return nil, err
	}
	if _, err := tmpl.New("daily_digest").Parse(dailyDigestHTML); err != nil {
		return nil, err
	}
	if _, err := tmpl.New("weekly_digest").Parse(weeklyDigestHTML); err != nil {
		return nil, err
	}
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		tmpl:    tmpl,
	}, nil
}

func (r *Renderer) mapURL() string         { return r.baseURL + "/map" }
func (r *Renderer) unsubscribeURL() string { return r.baseURL + "/unsubscribe" }

func (r *Renderer) ImmediateAlert(areaName string, riskScore float64, factors []string) (string, string, error) {
	ctx := map[string]any{
		"AreaName":       areaName,
		"RiskScore":      fmt.Sprintf("%.1f", riskScore),
		"RiskLevel":      RiskLevel(riskScore),
		"BadgeColor":     riskBadgeColor(riskScore),
		"Factors":        factors,
		"MapURL":         r.mapURL(),
		"UnsubscribeURL": r.unsubscribeURL(),
	}

	var html strings.Builder
	if err := r.tmpl.ExecuteTemplate(&html, "email", ctx); err != nil {
		return "", "", err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Fire Risk Alert: %s\n", areaName)
	fmt.Fprintf(&text, "Risk Level: %s (%.0f%%)\n\n", RiskLevel(riskScore), riskScore)
	if len(factors) > 0 {
		text.WriteString("Contributing factors:\n")
		for _, f := range factors {
			fmt.Fprintf(&text, "  - %s\n", f)
		}
		text.WriteString("\n")
	}
	fmt.Fprintf(&text, "View on Map: %s\n", r.mapURL())
	fmt.Fprintf(&text, "Unsubscribe: %s\n", r.unsubscribeURL())

	return html.String(), text.String(), nil
}

func (r *Renderer) DailyDigest(dateStr string, areas []DigestArea) (string, string, error) {
	for i := range areas {
		if areas[i].RiskLevel == "" {
			areas[i].RiskLevel = RiskLevel(areas[i].RiskScore)
		}
		if areas[i].BadgeColor == "" {
			areas[i].BadgeColor = riskBadgeColor(areas[i].RiskScore)
		}
		if areas[i].HighlightBG == "" {
			if areas[i].RiskScore >= 70 {
				areas[i].HighlightBG = "#fffef0"
			} else {
				areas[i].HighlightBG = "transparent"
			}
		}
	}

	ctx := map[string]any{
		"Date":           dateStr,
		"Areas":          areas,
		"MapURL":         r.mapURL(),
		"UnsubscribeURL": r.unsubscribeURL(),
	}

	var html strings.Builder
	if err := r.tmpl.ExecuteTemplate(&html, "daily_digest", ctx); err != nil {
		return "", "", err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Daily Risk Summary - %s\n\n", dateStr)
	for _, a := range areas {
		fmt.Fprintf(&text, "%s: %.0f%% (%s)\n", a.AreaName, a.RiskScore, a.RiskLevel)
	}
	fmt.Fprintf(&text, "\nView Full Map: %s\n", r.mapURL())

	return html.String(), text.String(), nil
}

func (r *Renderer) WeeklyDigest(weekRange string, areas []WeeklyArea, summary WeeklySummary) (string, string, error) {
	ctx := map[string]any{
		"WeekRange":      weekRange,
		"Areas":          areas,
		"Summary":        summary,
		"MapURL":         r.mapURL(),
		"UnsubscribeURL": r.unsubscribeURL(),
	}

	var html strings.Builder
	if err := r.tmpl.ExecuteTemplate(&html, "weekly_digest", ctx); err != nil {
		return "", "", err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Weekly Risk Summary - %s\n\n", weekRange)
	fmt.Fprintf(&text, "Areas monitored: %d\n", summary.AreaCount)
	fmt.Fprintf(&text, "Highest risk: %.0f%%\n\n", summary.MaxRisk)
	for _, a := range areas {
		trend := a.Trend
		if trend == "" {
			trend = "stable"
		}
		fmt.Fprintf(&text, "%s: %.0f%% (trend: %s)\n", a.AreaName, a.AvgRisk, trend)
	}
	fmt.Fprintf(&text, "\nView Full Map: %s\n", r.mapURL())

	return html.String(), text.String(), nil
}

// RiskLevel maps a 0-100 score to a display label.
func RiskLevel(score float64) string {
	switch {
	case score >= 80:
		return "High"
	case score >= 50:
		return "Medium"
	case score >= 25:
		return "Low"
	default:
		return "Very Low"
	}
}

func riskBadgeColor(score float64) string {
	switch {
	case score >= 80:
		return "#dc2626"
	case score >= 50:
		return "#f59e0b"
	case score >= 25:
		return "#eab308"
	default:
		return "#16a34a"
	}
}

const immediateAlertHTML = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f4f5;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td>
          <h1 style="margin:0 0 8px;font-size:20px;color:#18181b;">Fire Risk Alert: {{.AreaName}}</h1>
          <p style="margin:0 0 16px;">
            <span style="display:inline-block;padding:4px 12px;border-radius:999px;background:{{.BadgeColor}};color:#ffffff;font-weight:bold;">
              {{.RiskLevel}} &middot; {{.RiskScore}}%
            </span>
          </p>
          {{if .Factors}}
          <p style="margin:0 0 4px;color:#3f3f46;font-weight:bold;">Contributing factors</p>
          <ul style="margin:0 0 16px;padding-left:20px;color:#3f3f46;">
            {{range .Factors}}<li>{{.}}</li>{{end}}
          </ul>
          {{end}}
          <p style="margin:0 0 24px;">
            <a href="{{.MapURL}}" style="color:#2563eb;">View on Map</a>
          </p>
          <p style="margin:0;font-size:12px;color:#a1a1aa;">
            <a href="{{.UnsubscribeURL}}" style="color:#a1a1aa;">Unsubscribe</a>
          </p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

const dailyDigestHTML = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f4f5;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td>
          <h1 style="margin:0 0 16px;font-size:20px;color:#18181b;">Daily Risk Summary &mdash; {{.Date}}</h1>
          <table role="presentation" width="100%" cellpadding="8" cellspacing="0">
            {{range .Areas}}
            <tr style="background:{{.HighlightBG}};">
              <td style="color:#3f3f46;">{{.AreaName}}</td>
              <td align="right">
                <span style="display:inline-block;padding:2px 10px;border-radius:999px;background:{{.BadgeColor}};color:#ffffff;font-size:12px;">
                  {{.RiskLevel}} &middot; {{printf "%.0f" .RiskScore}}%
                </span>
              </td>
            </tr>
            {{end}}
          </table>
          <p style="margin:16px 0 24px;">
            <a href="{{.MapURL}}" style="color:#2563eb;">View Full Map</a>
          </p>
          <p style="margin:0;font-size:12px;color:#a1a1aa;">
            <a href="{{.UnsubscribeURL}}" style="color:#a1a1aa;">Unsubscribe</a>
          </p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

const weeklyDigestHTML = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f4f5;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td>
          <h1 style="margin:0 0 16px;font-size:20px;color:#18181b;">Weekly Risk Summary &mdash; {{.WeekRange}}</h1>
          <p style="margin:0 0 16px;color:#3f3f46;">
            Areas monitored: {{.Summary.AreaCount}} &middot; Highest risk: {{printf "%.0f" .Summary.MaxRisk}}%
          </p>
          <table role="presentation" width="100%" cellpadding="8" cellspacing="0">
            {{range .Areas}}
            <tr>
              <td style="color:#3f3f46;">{{.AreaName}}</td>
              <td align="right" style="color:#3f3f46;">{{printf "%.0f" .AvgRisk}}% ({{.Trend}})</td>
            </tr>
            {{end}}
          </table>
          <p style="margin:16px 0 24px;">
            <a href="{{.MapURL}}" style="color:#2563eb;">View Full Map</a>
          </p>
          <p style="margin:0;font-size:12px;color:#a1a1aa;">
            <a href="{{.UnsubscribeURL}}" style="color:#a1a1aa;">Unsubscribe</a>
          </p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`
