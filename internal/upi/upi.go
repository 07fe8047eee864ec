// Package upi recognises Indian payment-channel narrations (UPI, IMPS, NEFT,
// RTGS) and pulls a structured fingerprint out of them.
package upi

import (
	"regexp"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Fingerprint is the structured form of a payment narration.
type Fingerprint struct {
	UPIType         string         `json:"upi_type"`
	TransactionType string         `json:"transaction_type,omitempty"`
	Reference       string         `json:"reference,omitempty"`
	SenderReceiver  string         `json:"sender_receiver,omitempty"`
	UPIID           string         `json:"upi_id,omitempty"`
	Remarks         string         `json:"remarks,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`
	Channel         models.Channel `json:"channel"`
}

// narrationPrefixes are checked against the uppercased, trimmed description.
var narrationPrefixes = []string{
	"UPI/", "UPI/DR", "UPI/CR", "UPI/IMPS", "UPI IMPS", "UPI/RTGS", "UPI/NEFT",
}

var typeTokens = map[string]bool{
	"DR": true, "CR": true, "IMPS": true, "RTGS": true, "NEFT": true,
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	slashRun      = regexp.MustCompile(`\s*/[\s/]*`)

	// Timestamp shapes, most specific first. The compact numeric forms must be
	// preceded by whitespace so slash-delimited reference numbers survive.
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`T(?:[01]\d|2[0-3]):[0-5]\d:[0-5]\d`),
		regexp.MustCompile(`\b(?:[01]\d|2[0-3]):[0-5]\d:[0-5]\d\b`),
		regexp.MustCompile(`\b(?:[01]\d|2[0-3]):[0-5]\d\b`),
		regexp.MustCompile(`\s(?:[01]\d|2[0-3])[0-5]\d[0-5]\d\b`),
		regexp.MustCompile(`\s(?:[01]\d|2[0-3])[0-5]\d\b`),
	}

	referencePattern = regexp.MustCompile(`^[A-Z0-9]*[0-9][A-Z0-9]*$`)
	upiIDPattern     = regexp.MustCompile(`\*{0,2}[\w.]+@\w+`)
	rrnPattern       = regexp.MustCompile(`\d{8,12}`)

	// narrationMarker starts a new payment narration inside a longer string.
	// A trailing "/UPI" suffix is not a marker, even when an amount or a
	// time follows it.
	narrationMarker = regexp.MustCompile(`(?i)\bUPI(?:/(?:DR|CR|IMPS|RTGS|NEFT|P2A|P2M|\d)|\s(?:IMPS|RTGS|NEFT)\b)`)
)

// Normalise collapses whitespace and runs of '/' (with any spaces around
// them) to a single separator.
func Normalise(desc string) string {
	s := whitespaceRun.ReplaceAllString(strings.TrimSpace(desc), " ")
	return slashRun.ReplaceAllString(s, "/")
}

// IsPaymentNarration reports whether desc starts like a UPI/IMPS/NEFT/RTGS
// narration.
func IsPaymentNarration(desc string) bool {
	s := strings.ToUpper(strings.TrimSpace(desc))
	for _, p := range narrationPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Extract parses a payment narration. The boolean is false when desc is not
// a payment narration.
func Extract(desc string) (Fingerprint, bool) {
	s := Normalise(desc)
	if !IsPaymentNarration(s) {
		return Fingerprint{}, false
	}

	var fp Fingerprint
	for _, re := range timestampPatterns {
		if loc := re.FindStringIndex(s); loc != nil {
			fp.Timestamp = strings.TrimSpace(strings.TrimPrefix(s[loc[0]:loc[1]], "T"))
			s = Normalise(s[:loc[0]] + " " + s[loc[1]:])
			break
		}
	}

	fields := strings.Split(s, "/")
	i := 0
	for ; i < len(fields); i++ {
		f := strings.ToUpper(fields[i])
		if strings.HasPrefix(f, "UPI") {
			// "UPI IMPS" carries the type inside the first field.
			head, rest, _ := strings.Cut(f, " ")
			fp.UPIType = head
			if typeTokens[rest] {
				fp.TransactionType = rest
			}
			i++
			break
		}
	}
	if fp.TransactionType == "" && i < len(fields) && typeTokens[strings.ToUpper(fields[i])] {
		fp.TransactionType = strings.ToUpper(fields[i])
		i++
	}
	for j := i; j < len(fields); j++ {
		if referencePattern.MatchString(fields[j]) {
			fp.Reference = fields[j]
			i = j + 1
			break
		}
	}
	if i < len(fields) {
		fp.SenderReceiver = strings.TrimSpace(fields[i])
		i++
	}
	if i < len(fields) {
		fp.UPIID = strings.TrimSpace(fields[i])
		i++
	}
	if i < len(fields) {
		fp.Remarks = strings.TrimSpace(strings.Join(fields[i:], "/"))
	}
	fp.Channel = channelFor(fp.TransactionType, s)
	return fp, true
}

func channelFor(txnType, s string) models.Channel {
	switch txnType {
	case "NEFT":
		return models.ChannelNEFT
	case "RTGS":
		return models.ChannelRTGS
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "paytm"):
		return models.ChannelPaytm
	case strings.Contains(lower, "phonepe") || strings.Contains(lower, "ybl"):
		return models.ChannelPhonePe
	case strings.Contains(lower, "gpay") || strings.Contains(lower, "okaxis") ||
		strings.Contains(lower, "okhdfcbank") || strings.Contains(lower, "oksbi") ||
		strings.Contains(lower, "okicici"):
		return models.ChannelGPay
	}
	return models.ChannelUPI
}

// SplitNarrations cuts s at every narration marker when more than one is
// present. Text before the first marker is kept as its own part.
func SplitNarrations(s string) []string {
	locs := narrationMarker.FindAllStringIndex(s, -1)
	if len(locs) < 2 {
		return []string{strings.TrimSpace(s)}
	}
	var parts []string
	if head := strings.TrimSpace(s[:locs[0][0]]); head != "" {
		parts = append(parts, head)
	}
	for k, loc := range locs {
		end := len(s)
		if k+1 < len(locs) {
			end = locs[k+1][0]
		}
		if part := strings.TrimSpace(s[loc[0]:end]); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// ExtractUPIID returns the first VPA-looking token, e.g. "sijoy1018@oksbi".
func ExtractUPIID(desc string) string {
	return upiIDPattern.FindString(desc)
}

// ExtractRRN returns the first 8–12 digit run after the UPI/ marker.
func ExtractRRN(desc string) string {
	upper := strings.ToUpper(desc)
	idx := strings.Index(upper, "UPI/")
	if idx < 0 {
		return ""
	}
	for _, m := range rrnPattern.FindAllStringIndex(desc[idx+4:], -1) {
		start, end := idx+4+m[0], idx+4+m[1]
		// Reject runs that are part of a longer number.
		if start > 0 && isDigit(desc[start-1]) || end < len(desc) && isDigit(desc[end]) {
			continue
		}
		return desc[start:end]
	}
	return ""
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// CounterpartyName returns the sender/receiver field of a narration.
func CounterpartyName(desc string) string {
	fp, ok := Extract(desc)
	if !ok {
		return ""
	}
	return fp.SenderReceiver
}
