package canteen

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

type Item struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Price    []string `json:"price"`
	// Kind holds the feed's icon codes (ex. vegan, pork), comma separated.
	Kind string `json:"kind"`
}

type Day struct {
	Date  string
	Items []Item
}

// Menu is the canteen plan in feed order. It encodes to a JSON object keyed by
// "dd.mm.yyyy" whose keys keep that order.
type Menu struct {
	Days []Day
}

type dayJSON struct {
	Items []Item `json:"items"`
}

func (m Menu) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range m.Days {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(day.Date)
		if err != nil {
			return nil, err
		}
		items := day.Items
		if items == nil {
			items = []Item{}
		}
		value, err := json.Marshal(dayJSON{Items: items})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Menu) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("menu: expected object, got %v", tok)
	}

	m.Days = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		date, ok := tok.(string)
		if !ok {
			return fmt.Errorf("menu: expected date key, got %v", tok)
		}
		var day dayJSON
		err = dec.Decode(&day)
		if err != nil {
			return fmt.Errorf("menu: day %s: %w", date, err)
		}
		m.Days = append(m.Days, Day{Date: date, Items: day.Items})
	}
	_, err = dec.Token()
	return err
}

func (m *Menu) put(day Day) {
	for i := range m.Days {
		if m.Days[i].Date == day.Date {
			m.Days[i] = day
			return
		}
	}
	m.Days = append(m.Days, day)
}

type feedItem struct {
	Category string `xml:"category"`
	Title    string `xml:"title"`
	Preis1   string `xml:"preis1"`
	Preis2   string `xml:"preis2"`
	Preis3   string `xml:"preis3"`
	Preis4   string `xml:"preis4"`
	Icons    string `xml:"icons"`
}

type feedDay struct {
	Timestamp string     `xml:"timestamp,attr"`
	Items     []feedItem `xml:"item"`
}

type feed struct {
	Days []feedDay `xml:"tag"`
}

const secondsPerDay = 86400

// DayKey turns a feed timestamp into its calendar day. The feed stamps days at
// arbitrary times so the timestamp is rounded to the nearest midnight UTC first.
func DayKey(timestamp int64, loc *time.Location) string {
	rounded := int64(math.Round(float64(timestamp)/secondsPerDay)) * secondsPerDay
	return time.Unix(rounded, 0).In(loc).Format("02.01.2006")
}

// ParseFeed reads the XML canteen feed. Days without a usable timestamp are skipped,
// a day key seen twice keeps its first position and its last contents.
func ParseFeed(data []byte, loc *time.Location) (Menu, error) {
	var f feed
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	err := dec.Decode(&f)
	if err != nil {
		return Menu{}, fmt.Errorf("decode canteen feed: %w", err)
	}

	menu := Menu{Days: []Day{}}
	for _, fd := range f.Days {
		timestamp, err := strconv.ParseInt(strings.TrimSpace(fd.Timestamp), 10, 64)
		if err != nil {
			continue
		}

		items := make([]Item, 0, len(fd.Items))
		for _, it := range fd.Items {
			items = append(items, Item{
				Category: it.Category,
				Title:    it.Title,
				Price:    []string{it.Preis1, it.Preis2, it.Preis3, it.Preis4},
				Kind:     it.Icons,
			})
		}
		menu.put(Day{Date: DayKey(timestamp, loc), Items: items})
	}
	return menu, nil
}
