package audit

import (
	"encoding/csv"
	"io"
	"iter"
	"strconv"
	"time"
)

var csvHeader = []string{"seq", "at", "principal_id", "action", "resource_id", "reason", "amount", "outcome", "ref_seq"}

// WriteCSV streams entries to w, flushing as it goes. It stops at the first
// error from the sequence or the writer.
func WriteCSV(w io.Writer, entries iter.Seq2[Entry, error]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for e, err := range entries {
		if err != nil {
			cw.Flush()
			return err
		}
		if err := cw.Write(csvRecord(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(e Entry) []string {
	return []string{
		strconv.FormatInt(e.Seq, 10),
		e.At.UTC().Format(time.RFC3339Nano),
		e.PrincipalID,
		e.Action,
		e.ResourceID,
		e.Reason,
		formatOptional(e.Amount),
		string(e.Outcome),
		formatOptional(e.RefSeq),
	}
}

func formatOptional(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
