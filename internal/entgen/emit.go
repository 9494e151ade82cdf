package entgen

import (
	"fmt"
	"go/types"

	"github.com/dave/jennifer/jen"
)

const (
	entityPkg = "github.com/greghart/sqlsplice/entityp"
	sqlpPkg   = "github.com/greghart/sqlsplice/sqlp"
)

// Emit renders one registered entity variable per model into a file of package pkgPath.
//
//	var PersonEntity = entityp.MustRegister(entityp.Default, entityp.MustNew(entityp.Definition[Person, int64]{...}))
func Emit(pkgPath, pkgName string, models []*Model) (*jen.File, error) {
	f := jen.NewFilePathName(pkgPath, pkgName)
	f.HeaderComment("Code generated by entgen. DO NOT EDIT.")
	f.ImportName(entityPkg, "entityp")
	f.ImportName(sqlpPkg, "sqlp")

	for _, m := range models {
		idType, err := typeCode(m.IDType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		record := jen.Qual(pkgPath, m.Name)

		def := jen.Dict{
			jen.Id("Table"):    jen.Lit(m.Table),
			jen.Id("IDColumn"): jen.Lit(m.IDColumn),
			jen.Id("Fields"): jen.Index().String().ValuesFunc(func(g *jen.Group) {
				for _, field := range m.Fields {
					g.Lit(field.Column)
				}
			}),
			jen.Id("Mapper"): jen.Qual(sqlpPkg, "Mapper").Types(record.Clone()).Values(jen.DictFunc(func(d jen.Dict) {
				for _, field := range m.Fields {
					d[jen.Lit(field.Column)] = jen.Func().Params(jen.Id("e").Op("*").Add(record.Clone())).Any().Block(
						jen.Return(jen.Op("&").Add(selector(field.Path))),
					)
				}
			})),
		}
		if len(m.IDPath) > 0 {
			def[jen.Id("ID")] = jen.Func().Params(jen.Id("e").Op("*").Add(record.Clone())).Op("*").Add(idType).Block(
				jen.Return(jen.Op("&").Add(selector(m.IDPath))),
			)
		}

		f.Commentf("%sEntity maps %s onto the %s table.", m.Name, m.Name, m.Table)
		f.Var().Id(m.Name+"Entity").Op("=").Qual(entityPkg, "MustRegister").Call(
			jen.Qual(entityPkg, "Default"),
			jen.Qual(entityPkg, "MustNew").Call(
				jen.Qual(entityPkg, "Definition").Types(record.Clone(), idType).Values(def),
			),
		)
	}
	return f, nil
}

func selector(path []string) *jen.Statement {
	s := jen.Id("e")
	for _, p := range path {
		s = s.Dot(p)
	}
	return s
}

// typeCode writes the Go syntax for t.
func typeCode(t types.Type) (jen.Code, error) {
	switch t := t.(type) {
	case *types.Basic:
		return jen.Id(t.Name()), nil
	case *types.Named:
		obj := t.Obj()
		if obj.Pkg() == nil {
			return jen.Id(obj.Name()), nil
		}
		return jen.Qual(obj.Pkg().Path(), obj.Name()), nil
	case *types.Array:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Index(jen.Lit(int(t.Len()))).Add(elem), nil
	case *types.Pointer:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Op("*").Add(elem), nil
	}
	return nil, fmt.Errorf("unsupported id type %s", t)
}
