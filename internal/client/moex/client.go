package moex

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"investsync/internal/config"
	"investsync/internal/models"
	"investsync/internal/normalize"
)

// Client reads daily history bars from the exchange's ISS endpoint. ISS is
// anonymous and paginates with a start offset plus a cursor block in every
// response.
type Client struct {
	http        *resty.Client
	baseURL     string
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

// HistoryPage is one page of daily bars plus the cursor that positions it in
// the full result set.
type HistoryPage struct {
	Bars     []models.PriceBar
	Index    int
	Total    int
	PageSize int
}

func New(cfg config.ExchangeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New()
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	} else {
		httpClient.SetTimeout(30 * time.Second)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 700 * time.Millisecond
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

type issTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

type issResponse struct {
	History issTable `json:"history"`
	Cursor  issTable `json:"history.cursor"`
}

// History fetches one page of daily bars for (board, secid) in [from, till],
// both inclusive, starting at the given row offset.
func (c *Client) History(ctx context.Context, board, secid, from, till string, start int) (*HistoryPage, error) {
	if strings.TrimSpace(secid) == "" {
		return nil, fmt.Errorf("history: empty secid")
	}
	url := fmt.Sprintf("%s/iss/history/engines/stock/markets/shares/boards/%s/securities/%s.json",
		c.baseURL, board, secid)
	body, err := c.get(ctx, url, map[string]string{
		"from":  from,
		"till":  till,
		"start": fmt.Sprintf("%d", start),
	})
	if err != nil {
		return nil, err
	}
	var parsed issResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("history %s: decode response: %w", secid, err)
	}
	page := &HistoryPage{
		Bars: rowsToBars(parsed.History),
	}
	page.Index, page.Total, page.PageSize = cursorValues(parsed.Cursor)
	return page, nil
}

func (c *Client) get(ctx context.Context, url string, query map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << (attempt - 1)
			if jitter := int64(c.backoffBase) / 2; jitter > 0 {
				backoff += time.Duration(rand.Int63n(jitter))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetQueryParams(query).
			Get(url)
		if err != nil {
			lastErr = fmt.Errorf("exchange request: %w", err)
			c.logger.Warn("exchange request failed, will retry",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		status := resp.StatusCode()
		if status == 200 {
			return resp.Body(), nil
		}
		lastErr = fmt.Errorf("exchange request: status %d", status)
		if status >= 400 && status < 500 {
			return nil, lastErr
		}
		c.logger.Warn("exchange server error, will retry",
			zap.Int("status", status),
			zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

// rowsToBars maps ISS rows to bars by column name, so column reordering on
// the exchange side does not break parsing. Rows without a trade date or
// secid are skipped.
func rowsToBars(table issTable) []models.PriceBar {
	idx := make(map[string]int, len(table.Columns))
	for i, name := range table.Columns {
		idx[strings.ToUpper(name)] = i
	}
	str := func(row []interface{}, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) || row[i] == nil {
			return ""
		}
		s, _ := row[i].(string)
		return s
	}
	strptr := func(row []interface{}, col string) *string {
		s := str(row, col)
		if s == "" {
			return nil
		}
		return &s
	}
	num := func(row []interface{}, col string) *float64 {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return nil
		}
		return normalize.Money(row[i])
	}
	intval := func(row []interface{}, col string) *int64 {
		v := num(row, col)
		if v == nil {
			return nil
		}
		n := int64(*v)
		return &n
	}
	bars := make([]models.PriceBar, 0, len(table.Data))
	for _, row := range table.Data {
		bar := models.PriceBar{
			BoardID:    str(row, "BOARDID"),
			SecID:      str(row, "SECID"),
			TradeDate:  normalize.Date(str(row, "TRADEDATE")),
			ShortName:  strptr(row, "SHORTNAME"),
			NumTrades:  intval(row, "NUMTRADES"),
			Value:      num(row, "VALUE"),
			Open:       num(row, "OPEN"),
			Low:        num(row, "LOW"),
			High:       num(row, "HIGH"),
			LegalClose: num(row, "LEGALCLOSEPRICE"),
			WAPrice:    num(row, "WAPRICE"),
			Close:      num(row, "CLOSE"),
			Volume:     intval(row, "VOLUME"),
			WAVal:      intval(row, "WAVAL"),
			CurrencyID: strptr(row, "CURRENCYID"),
		}
		if bar.TradeDate == "" || bar.SecID == "" {
			continue
		}
		bars = append(bars, bar)
	}
	return bars
}

func cursorValues(cursor issTable) (index, total, pageSize int) {
	idx := make(map[string]int, len(cursor.Columns))
	for i, name := range cursor.Columns {
		idx[strings.ToUpper(name)] = i
	}
	if len(cursor.Data) == 0 {
		return 0, 0, 0
	}
	row := cursor.Data[0]
	read := func(col string) int {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return 0
		}
		if v := normalize.Money(row[i]); v != nil {
			return int(*v)
		}
		return 0
	}
	return read("INDEX"), read("TOTAL"), read("PAGESIZE")
}
