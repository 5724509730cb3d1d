package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/normalize"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy of cfg and everything wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.App.Bind = strings.TrimSpace(out.App.Bind)
	out.App.LogLevel = strings.ToLower(strings.TrimSpace(out.App.LogLevel))
	out.Import.NaturalKey = strings.ToLower(strings.TrimSpace(out.Import.NaturalKey))

	// ---- app ----
	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	if out.App.Bind == "" {
		res.addErr("app.bind is required")
	} else if ip := net.ParseIP(out.App.Bind); ip != nil && !ip.IsLoopback() {
		res.addWarn("app.bind %s is not a loopback address; the API will be reachable from the network.", out.App.Bind)
	}
	switch out.App.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		out.App.LogLevel = "info"
	default:
		res.addErr("app.log_level must be one of debug, info, warn, error")
	}
	if out.App.RatePerSecond < 0 {
		res.addErr("app.rate_per_second must be >= 0")
	}

	// ---- import ----
	if out.Import.NaturalKey == "" {
		out.Import.NaturalKey = string(leads.KeyEmail)
	}
	if _, err := leads.ParseNaturalKey(out.Import.NaturalKey); err != nil {
		res.addErr("import.natural_key: %v", err)
	} else if out.Import.NaturalKey == string(leads.KeyNone) {
		res.addWarn("import.natural_key is none; re-importing a file will duplicate every lead.")
	}
	vocab := make(map[string]string, len(out.Import.ProductVocabulary))
	for alias, canon := range out.Import.ProductVocabulary {
		alias, canon = domain.CleanText(alias), domain.CleanText(canon)
		if alias == "" || canon == "" {
			res.addErr("import.product_vocabulary entries need both an alias and a product name")
			continue
		}
		vocab[alias] = canon
	}
	out.Import.ProductVocabulary = vocab

	names := make([]string, 0, len(out.Import.Presets))
	for name := range out.Import.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			res.addErr("import.presets: preset name cannot be empty")
			continue
		}
		if _, err := normalize.ParseMapping(out.Import.Presets[name]); err != nil {
			res.addErr("import.presets.%s: %v", name, err)
		}
	}

	// ---- backup ----
	if out.Backup.Keep < 0 {
		res.addErr("backup.keep must be >= 0")
	}
	if out.Backup.IntervalMinutes < 0 {
		res.addErr("backup.interval_minutes must be >= 0")
	} else if out.Backup.IntervalMinutes > 0 && strings.TrimSpace(out.Backup.Dir) == "" {
		res.addErr("backup.dir is required when backup.interval_minutes > 0")
	}
	if s3 := out.Backup.S3; s3.Bucket == "" && (s3.Prefix != "" || s3.Endpoint != "") {
		res.addWarn("backup.s3 has a prefix or endpoint but no bucket; uploads are disabled.")
	} else if s3.Bucket != "" && s3.Region == "" && s3.Endpoint == "" {
		res.addWarn("backup.s3.region is empty; the AWS default region will be used.")
	}

	// ---- autosave ----
	if out.Autosave.IntervalSeconds < 0 {
		res.addErr("autosave.interval_seconds must be >= 0")
	} else if out.Autosave.IntervalSeconds > 0 && out.Autosave.IntervalSeconds < 5 {
		res.addWarn("autosave.interval_seconds is very low (%d).", out.Autosave.IntervalSeconds)
	}
	if !out.Autosave.OnMutation && out.Autosave.IntervalSeconds == 0 {
		res.addWarn("autosave is off; changes are only written by an explicit save.")
	}

	return out, res
}
