package xdb

import "strings"

// Region is the decoded form of a data-region string.
type Region struct {
	Country  string
	Region   string
	Province string
	City     string
	ISP      string
}

// ParseRegion splits a pipe-delimited region string.
//
// Two dataset layouts are in circulation:
//
//	country|region|province|city|isp
//	country|province|city|isp
//
// "0" is the dataset's placeholder for an unknown field and is mapped to "".
func ParseRegion(s string) Region {
	if s == "" {
		return Region{}
	}

	fields := strings.Split(s, "|")
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "0" {
			f = ""
		}
		fields[i] = f
	}

	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	if len(fields) == 4 {
		return Region{
			Country:  get(0),
			Province: get(1),
			City:     get(2),
			ISP:      get(3),
		}
	}

	return Region{
		Country:  get(0),
		Region:   get(1),
		Province: get(2),
		City:     get(3),
		ISP:      get(4),
	}
}

// IsEmpty reports whether no country could be decoded.
func (r Region) IsEmpty() bool {
	return r.Country == ""
}
