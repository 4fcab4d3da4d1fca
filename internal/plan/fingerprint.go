package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint derives the cache and single-flight key for a query. The
// canonical string sorts dimensions and filters so equivalent requests
// collapse to one key; the hash is stable across processes.
func Fingerprint(backend, metric string, dims, filters []string, order *Order, limit int) string {
	d := append([]string(nil), dims...)
	sort.Strings(d)
	f := append([]string(nil), filters...)
	sort.Strings(f)

	ord := "-"
	if order != nil {
		dir := "asc"
		if order.Desc {
			dir = "desc"
		}
		ord = order.Alias + " " + dir
	}

	canon := strings.Join([]string{
		backend,
		metric,
		strings.Join(d, ","),
		strings.Join(f, "&"),
		ord,
		strconv.Itoa(limit),
	}, "|")

	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}
