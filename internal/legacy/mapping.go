package legacy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/quota/internal/domain"
)

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	domain.DateLayout,
	"02/01/2006",
}

// parseTime reads a stored date or timestamp. Values without an offset are taken in loc.
func parseTime(v any, loc *time.Location) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case nil:
		return time.Time{}, errors.New("missing date")
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %T", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func snapshotSource(fonte string) domain.SnapshotSource {
	f := strings.ToLower(strings.TrimSpace(fonte))
	if f == "" || f == "manual" {
		return domain.SourceManual
	}
	return domain.SourceExternalAPI
}

func logSource(fonte string) string {
	f := strings.ToLower(strings.TrimSpace(fonte))
	switch {
	case strings.Contains(f, "octav"):
		return domain.LogSourceOctav
	case f == "":
		return domain.LogSourceManual
	default:
		return f
	}
}

// operationKind maps tipo values such as ATUALIZACAO_AUTOMATICA, ATUALIZACAO_MANUAL,
// ATUALIZACAO and ERRO.
func operationKind(tipo string) domain.OperationKind {
	t := strings.ToUpper(strings.TrimSpace(tipo))
	switch {
	case strings.HasPrefix(t, "ERRO"), strings.HasPrefix(t, "ERROR"):
		return domain.KindError
	case strings.Contains(t, "AUTOMATIC"):
		return domain.KindAutomaticUpdate
	default:
		return domain.KindManualUpdate
	}
}

func operationStatus(status string) domain.OperationStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCESSO", "SUCCESS", "OK":
		return domain.StatusSuccess
	default:
		return domain.StatusError
	}
}
