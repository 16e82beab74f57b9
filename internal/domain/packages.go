package domain

import "fmt"

// TokenPackage is a fixed bundle of tokens sold for a fixed price.
type TokenPackage struct {
	Name   string `json:"name"`
	Tokens Amount `json:"tokens"`
	Price  Amount `json:"price"`
}

var packages = []TokenPackage{
	{Name: "small", Tokens: MustParseAmount("50"), Price: MustParseAmount("5.00")},
	{Name: "medium", Tokens: MustParseAmount("100"), Price: MustParseAmount("9.00")},
	{Name: "large", Tokens: MustParseAmount("200"), Price: MustParseAmount("17.00")},
}

// Packages returns a copy of the package list.
func Packages() []TokenPackage {
	out := make([]TokenPackage, len(packages))
	copy(out, packages)
	return out
}

func LookupPackage(name string) (TokenPackage, error) {
	for _, p := range packages {
		if p.Name == name {
			return p, nil
		}
	}
	return TokenPackage{}, fmt.Errorf("%w: %q", ErrInvalidPackage, name)
}
