package models

// NCFRule maps a document-type prefix to its total NCF length.
type NCFRule struct {
	Prefix      string `yaml:"prefix" json:"prefix"`
	Length      int    `yaml:"length" json:"length"`
	Description string `yaml:"description" json:"description"`
}

// NCFRules is an ordered prefix table.
type NCFRules []NCFRule

// Lookup returns the rule for a three-character prefix.
func (rs NCFRules) Lookup(prefix string) (NCFRule, bool) {
	for _, r := range rs {
		if r.Prefix == prefix {
			return r, true
		}
	}
	return NCFRule{}, false
}

// Lengths returns the distinct configured lengths in table order.
func (rs NCFRules) Lengths() []int {
	var out []int
	seen := map[int]bool{}
	for _, r := range rs {
		if !seen[r.Length] {
			seen[r.Length] = true
			out = append(out, r.Length)
		}
	}
	return out
}

// Legal reports whether ncf has a known prefix and the matching length.
func (rs NCFRules) Legal(ncf string) bool {
	if len(ncf) < 3 {
		return false
	}
	r, ok := rs.Lookup(ncf[:3])
	if !ok || len(ncf) != r.Length {
		return false
	}
	for i := 3; i < len(ncf); i++ {
		if ncf[i] < '0' || ncf[i] > '9' {
			return false
		}
	}
	return true
}

// DefaultNCFRules returns the DGII comprobante types.
// Legacy B-series are 11 characters, electronic E-series 13.
func DefaultNCFRules() NCFRules {
	return NCFRules{
		{Prefix: "B01", Length: 11, Description: "Factura Crédito Fiscal"},
		{Prefix: "B02", Length: 11, Description: "Factura Consumidor Final"},
		{Prefix: "B03", Length: 11, Description: "Nota de Débito"},
		{Prefix: "B04", Length: 11, Description: "Nota de Crédito"},
		{Prefix: "B11", Length: 11, Description: "Comprobante de Compras"},
		{Prefix: "B12", Length: 11, Description: "Registro Único de Ingresos"},
		{Prefix: "B13", Length: 11, Description: "Gastos Menores"},
		{Prefix: "B14", Length: 11, Description: "Régimen Especial"},
		{Prefix: "B15", Length: 11, Description: "Gubernamental"},
		{Prefix: "B16", Length: 11, Description: "Exportación"},
		{Prefix: "B17", Length: 11, Description: "Pagos al Exterior"},
		{Prefix: "E31", Length: 13, Description: "Factura Electrónica"},
		{Prefix: "E32", Length: 13, Description: "Factura Consumo Electrónica"},
		{Prefix: "E33", Length: 13, Description: "Nota Débito Electrónica"},
		{Prefix: "E34", Length: 13, Description: "Nota Crédito Electrónica"},
		{Prefix: "E41", Length: 13, Description: "Comprobante Compras"},
		{Prefix: "E43", Length: 13, Description: "Gastos Menores"},
		{Prefix: "E44", Length: 13, Description: "Regímenes Especiales"},
		{Prefix: "E45", Length: 13, Description: "Gubernamental"},
		{Prefix: "E46", Length: 13, Description: "Exportación Electrónica"},
		{Prefix: "E47", Length: 13, Description: "Pagos al Exterior Electrónico"},
	}
}

// DefaultRNCLengths are the accepted taxpayer-id digit counts.
func DefaultRNCLengths() []int {
	return []int{9, 11}
}

// DetectTipoID returns "1" for a 9-digit RNC and "2" for an 11-digit cedula.
func DetectTipoID(rnc string) string {
	switch len(rnc) {
	case 9:
		return "1"
	case 11:
		return "2"
	}
	return ""
}
