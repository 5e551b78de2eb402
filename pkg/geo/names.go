package geo

import (
	"sync"

	"github.com/biter777/countries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Chinese region names as stored by ip2region datasets, keyed by folded name.
var chineseRegionNames = sync.OnceValue(func() map[string]string {
	namers := []display.Namer{
		display.SimplifiedChinese.Regions(),
		display.TraditionalChinese.Regions(),
	}

	names := make(map[string]string)
	for _, c := range countries.All() {
		code := c.Alpha2()
		region, err := language.ParseRegion(code)
		if err != nil {
			continue
		}
		for _, n := range namers {
			if name := n.Name(region); name != "" {
				names[cases.Fold().String(name)] = code
			}
		}
	}
	return names
})

// localNameToCode resolves a non-Latin country name without network access.
func localNameToCode(key string) (string, bool) {
	code, ok := chineseRegionNames()[key]
	return code, ok
}
