package airalo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

// flexString accepts ids the provider encodes as either JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return err
	}
	*f = flexString(number.String())
	return nil
}

// flexInt accepts integers, floats, and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(raw []byte) error {
	var value flexString
	if err := value.UnmarshalJSON(raw); err != nil {
		return err
	}
	text := strings.TrimSpace(string(value))
	if text == "" {
		*f = 0
		return nil
	}
	if parsed, err := strconv.ParseInt(text, 10, 64); err == nil {
		*f = flexInt(parsed)
		return nil
	}
	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int64(parsed))
	return nil
}

type envelope[T any] struct {
	Data T `json:"data"`
	Meta struct {
		Message string `json:"message"`
	} `json:"meta"`
}

type simPayload struct {
	ICCID                      flexString `json:"iccid"`
	QRCode                     string     `json:"qrcode"`
	QRCodeAlt                  string     `json:"qr_code"`
	QRCodeURL                  string     `json:"qrcode_url"`
	QRCodeURLAlt               string     `json:"qr_code_url"`
	ActivationCode             string     `json:"activation_code"`
	LPA                        string     `json:"lpa"`
	SMDPAddress                string     `json:"smdp_address"`
	MatchingID                 string     `json:"matching_id"`
	DirectAppleInstallationURL string     `json:"direct_apple_installation_url"`
	Status                     string     `json:"status"`
	CreatedAt                  string     `json:"created_at"`
}

func (p simPayload) remote() core.RemoteSIM {
	return core.RemoteSIM{
		ICCID:                      strings.TrimSpace(string(p.ICCID)),
		QRCode:                     firstNonEmpty(p.QRCode, p.QRCodeAlt),
		QRCodeURL:                  firstNonEmpty(p.QRCodeURL, p.QRCodeURLAlt),
		ActivationCode:             strings.TrimSpace(p.ActivationCode),
		LPA:                        strings.TrimSpace(p.LPA),
		SMDPAddress:                strings.TrimSpace(p.SMDPAddress),
		MatchingID:                 strings.TrimSpace(p.MatchingID),
		DirectAppleInstallationURL: strings.TrimSpace(p.DirectAppleInstallationURL),
		Status:                     strings.TrimSpace(p.Status),
	}
}

type orderPayload struct {
	ID        flexString   `json:"id"`
	Code      string       `json:"code"`
	PackageID string       `json:"package_id"`
	CreatedAt string       `json:"created_at"`
	SIMs      []simPayload `json:"sims"`
}

func (p orderPayload) remote() core.RemoteOrder {
	order := core.RemoteOrder{
		ID:        strings.TrimSpace(string(p.ID)),
		Code:      strings.TrimSpace(p.Code),
		PackageID: strings.TrimSpace(p.PackageID),
		CreatedAt: parseTimestamp(p.CreatedAt),
		SIMs:      make([]core.RemoteSIM, 0, len(p.SIMs)),
	}
	for _, sim := range p.SIMs {
		order.SIMs = append(order.SIMs, sim.remote())
	}
	return order
}

type usagePayload struct {
	Remaining      flexInt `json:"remaining"`
	Total          flexInt `json:"total"`
	RemainingVoice flexInt `json:"remaining_voice"`
	RemainingText  flexInt `json:"remaining_text"`
	IsUnlimited    bool    `json:"is_unlimited"`
	Status         string  `json:"status"`
	ExpiredAt      string  `json:"expired_at"`
}

func (p usagePayload) usage(iccid string) core.SIMUsage {
	usage := core.SIMUsage{
		ICCID:          iccid,
		RemainingMB:    int64(p.Remaining),
		TotalMB:        int64(p.Total),
		RemainingVoice: int64(p.RemainingVoice),
		RemainingText:  int64(p.RemainingText),
		IsUnlimited:    p.IsUnlimited,
		Status:         strings.TrimSpace(p.Status),
	}
	if expiredAt := parseTimestamp(p.ExpiredAt); !expiredAt.IsZero() {
		usage.ExpiredAt = &expiredAt
	}
	return usage
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp returns the zero time for values it cannot read.
func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
