package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders entries through a pattern with the placeholders %time,
// %level, %msg, %field and %caller. Fields are sorted by key.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%msg", entry.Message,
		"%field", buildFields(entry.Data),
		"%caller", caller(entry),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// caller renders file:line for entries logged with ReportCaller.
func caller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	file := entry.Caller.File
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, entry.Caller.Line)
}

func buildFields(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(fields, " ")
}
