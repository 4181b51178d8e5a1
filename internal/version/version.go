// Package version описывает сборку: номер (дни от старта проекта), коммит и окружение.
// Значения приходят из -ldflags, а недостающие берутся из VCS-меток, которые
// go build вшивает в бинарь сам.
package version

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// -ldflags "-X drawn-of-war/internal/version.BuildDate=2026-01-15 -X drawn-of-war/internal/version.BuildCommit=..."
var (
	BuildDate   string // YYYY-MM-DD, UTC
	BuildCommit string
	BuildBranch string
	BuildCI     string
)

// Первый день разработки: сборка этого дня имеет номер 0.
var projectStart = time.Date(2025, time.December, 4, 0, 0, 0, 0, time.UTC)

var ErrNoBuildDate = errors.New("version: build date unknown")

// VersionInfo — ответ /version.
type VersionInfo struct {
	BuildID    int    `json:"buildId"`
	BuildDate  string `json:"buildDate"`
	Commit     string `json:"commit"`
	Branch     string `json:"branch,omitempty"`
	CI         string `json:"ci"`
	Dirty      bool   `json:"dirty,omitempty"`
	GoVersion  string `json:"goVersion,omitempty"`
	Calculated bool   `json:"calculated"`
	Error      string `json:"error,omitempty"`
}

// stamp — то, что передал линковщик.
type stamp struct {
	date, commit, branch, ci string
}

// Info собирает сведения о текущем бинаре.
func Info() VersionInfo {
	bi, _ := debug.ReadBuildInfo()
	return describe(stamp{BuildDate, BuildCommit, BuildBranch, BuildCI}, bi)
}

// describe объединяет ldflags и VCS-метки. ldflags важнее: CI знает точную дату релиза.
func describe(s stamp, bi *debug.BuildInfo) VersionInfo {
	info := VersionInfo{
		BuildDate: s.date,
		Commit:    s.commit,
		Branch:    s.branch,
		CI:        s.ci,
	}
	if info.CI == "" {
		info.CI = "local"
	}

	if bi != nil {
		info.GoVersion = bi.GoVersion
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = shortRevision(kv.Value)
				}
			case "vcs.time":
				if info.BuildDate == "" && len(kv.Value) >= len("2006-01-02") {
					info.BuildDate = kv.Value[:len("2006-01-02")]
				}
			case "vcs.modified":
				info.Dirty = kv.Value == "true"
			}
		}
	}

	n, err := daysSinceStart(info.BuildDate)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.BuildID = n
	info.Calculated = true
	return info
}

// daysSinceStart — номер сборки для даты YYYY-MM-DD.
func daysSinceStart(date string) (int, error) {
	if date == "" {
		return 0, ErrNoBuildDate
	}
	day, err := time.ParseInLocation(time.DateOnly, date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("version: bad build date %q: %w", date, err)
	}
	if day.Before(projectStart) {
		return 0, fmt.Errorf("version: build date %s precedes %s", date, projectStart.Format(time.DateOnly))
	}
	return int(day.Sub(projectStart) / (24 * time.Hour)), nil
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String — одна строка для стартового лога.
func String() string {
	return Info().String()
}

func (v VersionInfo) String() string {
	var b strings.Builder
	if v.Calculated {
		fmt.Fprintf(&b, "build #%d of %s", v.BuildID, v.BuildDate)
	} else {
		fmt.Fprintf(&b, "build unknown (%s)", v.Error)
	}
	if v.Commit != "" {
		b.WriteString(", commit " + v.Commit)
		if v.Dirty {
			b.WriteString("+dirty")
		}
	}
	if v.Branch != "" {
		b.WriteString(", branch " + v.Branch)
	}
	b.WriteString(", ci " + v.CI)
	return b.String()
}
