package detect

import (
	"strconv"
	"strings"

	"flowguard/internal/model"
)

const (
	maxFlowIDLen    = 127
	maxAddrLen      = 63
	maxTimestampLen = 63
)

// ParseFlow reads the seven leading columns of a cleaned row. String columns
// must be non-empty, ports and protocol must be whole integers, and every
// column after the first may carry leading whitespace. Rows that do not meet
// this are rejected with ok=false.
func ParseFlow(line string) (rec model.FlowRecord, ok bool) {
	fields := strings.SplitN(line, ",", model.LeadingColumns+1)
	if len(fields) < model.LeadingColumns {
		return model.FlowRecord{}, false
	}
	for i := 1; i < model.LeadingColumns; i++ {
		fields[i] = strings.TrimLeft(fields[i], " \t\n\v\f\r")
	}

	rec.FlowID = fields[0]
	if rec.FlowID == "" || len(rec.FlowID) > maxFlowIDLen {
		return model.FlowRecord{}, false
	}
	rec.SrcIP = fields[1]
	if !validAddr(rec.SrcIP) {
		return model.FlowRecord{}, false
	}
	if rec.SrcPort, ok = scanInt(fields[2]); !ok {
		return model.FlowRecord{}, false
	}
	rec.DstIP = fields[3]
	if !validAddr(rec.DstIP) {
		return model.FlowRecord{}, false
	}
	if rec.DstPort, ok = scanInt(fields[4]); !ok {
		return model.FlowRecord{}, false
	}
	if rec.Protocol, ok = scanInt(fields[5]); !ok {
		return model.FlowRecord{}, false
	}
	rec.Timestamp = fields[6]
	if rec.Timestamp == "" {
		return model.FlowRecord{}, false
	}
	if len(rec.Timestamp) > maxTimestampLen {
		rec.Timestamp = rec.Timestamp[:maxTimestampLen]
	}
	return rec, true
}

func validAddr(s string) bool {
	return s != "" && len(s) <= maxAddrLen
}

func scanInt(s string) (int, bool) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")
	if digits == "" {
		return 0, false
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
