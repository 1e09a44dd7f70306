package htmlutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("htwg-backend/pkg/htmlutil")

var (
	ErrNoMatch         = errors.New("no element matched")
	ErrInvalidSelector = errors.New("invalid selector")
)

// Document is a parsed HTML page. Parsing never fails, a document built from
// garbage is simply empty and every query against it reports no match.
type Document struct {
	doc *goquery.Document
}

func Parse(markup []byte) Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		doc = goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return Document{doc: doc}
}

func ParseString(markup string) Document {
	return Parse([]byte(markup))
}

// Selection exposes the underlying goquery selection of the whole document.
func (d Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

func compile(selector string) (cascadia.Selector, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSelector, selector, err)
	}
	return matcher, nil
}

// Query returns every element matching selector, an empty selection is not an error.
func (d Document) Query(selector string) (*goquery.Selection, error) {
	return QueryWithin(d.doc.Selection, selector)
}

// QueryWithin is Query relative to an existing selection.
func QueryWithin(sel *goquery.Selection, selector string) (*goquery.Selection, error) {
	matcher, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return sel.FindMatcher(matcher), nil
}

// First returns the first element matching selector or ErrNoMatch.
func (d Document) First(selector string) (*goquery.Selection, error) {
	sel, err := d.Query(selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%q: %w", selector, ErrNoMatch)
	}
	return sel.First(), nil
}

// Text returns the text of the first element matching selector, or "" when nothing matches.
func (d Document) Text(selector string) string {
	sel, err := d.First(selector)
	if err != nil {
		return ""
	}
	return sel.Text()
}

// Attr returns the attribute of the first element matching selector, a missing
// element or a missing attribute are both ErrNoMatch.
func (d Document) Attr(selector, attr string) (string, error) {
	sel, err := d.First(selector)
	if err != nil {
		return "", err
	}
	value, ok := sel.Attr(attr)
	if !ok {
		return "", fmt.Errorf("%q@%s: %w", selector, attr, ErrNoMatch)
	}
	return value, nil
}

// Has reports whether at least one element matches selector.
func (d Document) Has(selector string) bool {
	sel, err := d.Query(selector)
	return err == nil && sel.Length() > 0
}

// ExactText keeps the elements whose trimmed text equals text.
func ExactText(sel *goquery.Selection, text string) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return CleanText(s.Text()) == text
	})
}

// ContainsText keeps the elements whose text (including descendants) contains substr.
func ContainsText(sel *goquery.Selection, substr string) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(CleanText(s.Text()), substr)
	})
}

// OwnTextContains keeps the elements whose direct text children contain substr.
func OwnTextContains(sel *goquery.Selection, substr string) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, n := range s.Nodes {
			if strings.Contains(OwnText(n), substr) {
				return true
			}
		}
		return false
	})
}

// OuterHTML renders the first element of sel including its own tag.
func OuterHTML(sel *goquery.Selection) (string, error) {
	if sel.Length() == 0 {
		return "", ErrNoMatch
	}
	return goquery.OuterHtml(sel.First())
}

// OwnText concatenates the direct text children of node, skipping descendants.
func OwnText(node *html.Node) string {
	if node == nil {
		return ""
	}
	var buffer bytes.Buffer
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			buffer.WriteString(child.Data)
		}
	}
	return buffer.String()
}

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsSpace(c) {
			newStr.WriteRune(' ')
			continue
		}
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non printable characters, collapses whitespace and trims.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type Anchor struct {
	Name string
	Href string
}

// GetAnchors collects the anchors in sel, resolving every href against base when it is not nil.
func GetAnchors(ctx context.Context, base *url.URL, sel *goquery.Selection) []Anchor {
	_, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}

		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		name := CleanText(GetText(n))
		linkStr := link.String()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: linkStr,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", linkStr),
		))
	}

	return anchors
}
