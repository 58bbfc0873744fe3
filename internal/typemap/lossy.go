package typemap

import "fmt"

type conversion struct {
	from, to Family
}

// lossyConversions lists family changes that can silently truncate or reject
// existing values.
var lossyConversions = map[conversion]string{
	{Varchar, Integer}:   "non-numeric strings cannot be converted",
	{Varchar, BigInt}:    "non-numeric strings cannot be converted",
	{Text, Integer}:      "non-numeric strings cannot be converted",
	{Text, BigInt}:       "non-numeric strings cannot be converted",
	{Text, Varchar}:      "long text values may be truncated",
	{Text, Char}:         "long text values may be truncated",
	{Varchar, Char}:      "values may be truncated or padded",
	{BigInt, Integer}:    "values outside the 32-bit range overflow",
	{BigInt, SmallInt}:   "values outside the 16-bit range overflow",
	{Integer, SmallInt}:  "values outside the 16-bit range overflow",
	{Numeric, Integer}:   "fractional digits are discarded",
	{Numeric, BigInt}:    "fractional digits are discarded",
	{Double, Integer}:    "fractional digits are discarded",
	{Double, Float}:      "precision is reduced",
	{Timestamp, Date}:    "time of day is discarded",
	{Timestamp, Time}:    "date part is discarded",
	{JSON, Varchar}:      "documents may be truncated",
	{Varchar, Boolean}:   "only boolean literals can be converted",
	{Varchar, UUID}:      "only UUID literals can be converted",
	{Varchar, Date}:      "only date literals can be converted",
	{Varchar, Timestamp}: "only timestamp literals can be converted",
}

// Lossy reports whether converting a column from one declared type to another
// may lose data, with a short reason.
func (tm *TypeMap) Lossy(from, to string) (bool, string) {
	f, t := tm.Parse(from), tm.Parse(to)
	if f.Family == Unknown || t.Family == Unknown {
		return false, ""
	}
	if reason, ok := lossyConversions[conversion{f.Family, t.Family}]; ok {
		return true, reason
	}
	if f.Family == t.Family && f.Length > 0 && t.Length > 0 && t.Length < f.Length {
		return true, fmt.Sprintf("length shrinks from %d to %d", f.Length, t.Length)
	}
	if f.Family == Varchar && t.Family == Varchar && f.Length == 0 && t.Length > 0 {
		return true, fmt.Sprintf("unbounded values are limited to %d characters", t.Length)
	}
	return false, ""
}
