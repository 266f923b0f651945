package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"text/template"
)

// frameworkModule is the module the generated packages build on.
const frameworkModule = "github.com/goran-ethernal/EntityIndexor"

// reservedFields are entity fields every generated record carries.
var reservedFields = map[string]bool{"Contract": true, "Block": true, "LogIndex": true, "TxHash": true}

// TemplateData is passed to every template.
type TemplateData struct {
	Name        string // PascalCase, e.g. "ERC20Token"
	Package     string
	IndexerType string
	ImportPath  string
	Framework   string
	ABI         string
	Events      []*EventSignature
}

func (d *TemplateData) anyParam(pred func(EventParam) bool) bool {
	for _, event := range d.Events {
		for _, p := range event.Params {
			if pred(p) {
				return true
			}
		}
	}
	return false
}

// HandlersUseBig reports whether a handler decodes a *big.Int argument.
func (d *TemplateData) HandlersUseBig() bool {
	return d.anyParam(func(p EventParam) bool { return strings.Contains(ArgTypeName(p), "*big.Int") })
}

// HandlersUseSerde reports whether a handler converts an argument to serde.BigInt.
func (d *TemplateData) HandlersUseSerde() bool {
	return d.anyParam(func(p EventParam) bool { return GoTypeName(p) == bigIntType })
}

// EntitiesUseBig reports whether an entity field holds *big.Int values.
func (d *TemplateData) EntitiesUseBig() bool {
	return d.anyParam(func(p EventParam) bool { return strings.Contains(GoTypeName(p), "*big.Int") })
}

const entitiesTemplate = `// Generated by indexer-gen.

package {{.Package}}

import (
{{- if .EntitiesUseBig}}
	"math/big"
{{end}}
	"github.com/ethereum/go-ethereum/common"
	"{{.Framework}}/pkg/indexkey"
	"{{.Framework}}/pkg/serde"
)

// Entity types written by the handlers.
const (
{{- range .Events}}
	{{.Name}}Type = "{{$.Name}}{{.Name}}"
{{- end}}
)

// ByBlock orders the records of a contract by block and log index.
const ByBlock = "byBlock"
{{range $e := .Events}}
// {{$e.Name}} is one {{$e.CanonicalSignature}} event.
type {{$e.Name}} struct {
	Contract common.Address ` + "`json:\"contract\"`" + `
{{- range $e.Params}}
	{{.FieldName}} {{GoTypeName .}} ` + "`json:\"{{JSONFieldName .Name}}\"`" + `
{{- end}}
	Block uint64 ` + "`json:\"block\"`" + `
	LogIndex uint ` + "`json:\"log_index\"`" + `
	TxHash common.Hash ` + "`json:\"tx_hash\"`" + `
}
{{end}}
// The kinds are shared by every configured contract of this type.
var (
{{- range $e := .Events}}
	{{ToLowerCamelCase $e.Name}}Kind = serde.EntityDefinition[{{$e.Name}}]{
		Name: {{$e.Name}}Type,
		Indexes: []serde.IndexDefinition[{{$e.Name}}]{
			{Name: ByBlock, Key: func(e {{$e.Name}}) string {
				return indexkey.Join(addressKey(e.Contract), indexkey.EncodeUint64(e.Block), indexkey.EncodeUint64(uint64(e.LogIndex)))
			}},
{{- range $p := $e.IndexedParams}}{{with IndexKeyExpr $p (printf "e.%s" $p.FieldName)}}
			{Name: "by{{$p.FieldName}}", Key: func(e {{$e.Name}}) string {
				return indexkey.Join(addressKey(e.Contract), {{.}}, indexkey.EncodeUint64(e.Block))
			}},
{{- end}}{{end}}
		},
	}.Kind()
{{- end}}
)

// Kinds returns the entity kinds of the {{.Name}} indexer.
func Kinds() []serde.Kind {
	return []serde.Kind{ {{- range $i, $e := .Events}}{{if $i}}, {{end}}{{ToLowerCamelCase $e.Name}}Kind{{end}} }
}

func addressKey(addr common.Address) string {
	return indexkey.NormalizeString(addr.Hex())
}
`

const indexerTemplate = `// Generated by indexer-gen.

// Package {{.Package}} indexes {{range $i, $e := .Events}}{{if $i}}, {{end}}{{$e.Name}}{{end}} events of {{.Name}} contracts.
package {{.Package}}

import (
	"context"
	"fmt"
{{- if .HandlersUseBig}}
	"math/big"
{{- end}}
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"{{.Framework}}/internal/logger"
	"{{.Framework}}/pkg/config"
	"{{.Framework}}/pkg/indexer"
	"{{.Framework}}/pkg/indexkey"
{{- if .HandlersUseSerde}}
	"{{.Framework}}/pkg/serde"
{{- end}}
)

// IndexerType is the type name the factory is registered under.
const IndexerType = "{{.IndexerType}}"

const contractABI = ` + "`{{.ABI}}`" + `

func init() {
	indexer.Register(IndexerType, New{{.Name}}Indexer)
}

// New{{.Name}}Indexer builds the definition of one {{.Name}} contract.
func New{{.Name}}Indexer(cfg config.IndexerConfig, log *logger.Logger) (*indexer.Definition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse {{.Name}} ABI: %w", err)
	}

	h := &handlers{contract: common.HexToAddress(cfg.Address), log: log}

	return &indexer.Definition{
		Name:       cfg.Name,
		Address:    h.contract,
		ABI:        parsed,
		StartBlock: cfg.StartBlock,
		Entities:   Kinds(),
		Handlers: map[string]indexer.Handler{
{{- range .Events}}
			"{{.Name}}": h.handle{{.Name}},
{{- end}}
		},
	}, nil
}

type handlers struct {
	contract common.Address
	log      *logger.Logger
}
{{range $e := .Events}}
// handle{{$e.Name}} stores the event as a {{$e.Name}} record.
func (h *handlers) handle{{$e.Name}}(_ context.Context, s indexer.StorageHandle, event indexer.Event, log types.Log) error {
{{- range $i, $p := $e.Params}}
	arg{{$i}}, err := indexer.Arg[{{ArgTypeName $p}}](event, "{{$p.Name}}")
	if err != nil {
		return err
	}
{{- end}}

	record := {{$e.Name}}{
		Contract: h.contract,
{{- range $i, $p := $e.Params}}
		{{$p.FieldName}}: {{ConvertExpr $p (printf "arg%d" $i)}},
{{- end}}
		Block:    log.BlockNumber,
		LogIndex: log.Index,
		TxHash:   log.TxHash,
	}

	h.log.Debugf("{{$e.Name}} in block %d", log.BlockNumber)
	return s.SaveEntity({{$e.Name}}Type, entityID(h.contract, log), record)
}
{{end}}
func entityID(contract common.Address, log types.Log) string {
	return indexkey.Join(addressKey(contract), indexkey.EncodeUint64(log.BlockNumber), indexkey.EncodeUint64(uint64(log.Index)))
}
`

const readmeTemplate = `# {{.Name}} indexer

Generated by indexer-gen from:

{{range .Events}}- ` + "`{{.Raw}}`" + `
{{end}}
## Entities

| Entity type | Indexes |
|-------------|---------|
{{range $e := .Events}}| {{$.Name}}{{$e.Name}} | byBlock{{range $p := $e.IndexedParams}}{{if IndexKeyExpr $p "v"}}, by{{$p.FieldName}}{{end}}{{end}} |
{{end}}
Every record is keyed by contract, block number and log index. Handlers only
store the raw event; extend them to maintain derived entities.

## Configuration

` + "```yaml" + `
indexers:
  - name: "{{.Package}}"
    type: "{{.IndexerType}}"
    address: "0xYourContractAddress"
    start_block: 0
` + "```" + `

Import the package for its registration side effect:

` + "```go" + `
import _ "{{.ImportPath}}"
` + "```" + `
`

// RenderEntities renders entities.go.
func RenderEntities(data *TemplateData) (string, error) {
	return renderGo("entities", entitiesTemplate, data)
}

// RenderIndexer renders indexer.go.
func RenderIndexer(data *TemplateData) (string, error) {
	return renderGo("indexer", indexerTemplate, data)
}

// RenderReadme renders README.md.
func RenderReadme(data *TemplateData) (string, error) {
	return renderTemplate("readme", readmeTemplate, data)
}

// renderGo renders a Go source template and gofmts the result.
func renderGo(name, tmplStr string, data *TemplateData) (string, error) {
	src, err := renderTemplate(name, tmplStr, data)
	if err != nil {
		return "", err
	}

	formatted, err := format.Source([]byte(src))
	if err != nil {
		return "", fmt.Errorf("generated %s.go does not parse: %w", name, err)
	}
	return string(formatted), nil
}

func renderTemplate(name, tmplStr string, data *TemplateData) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"ArgTypeName":      ArgTypeName,
		"GoTypeName":       GoTypeName,
		"ConvertExpr":      ConvertExpr,
		"IndexKeyExpr":     IndexKeyExpr,
		"JSONFieldName":    JSONFieldName,
		"ToLowerCamelCase": ToLowerCamelCase,
	}
}
