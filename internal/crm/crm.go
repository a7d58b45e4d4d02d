// Package crm moves deals through the CRM pipeline after an order action has
// been executed.
package crm

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Stage names understood by the stage manager.
const (
	StageDelivered  = "DELIVERED"
	StageExchanged  = "EXCHANGED"
	StageCancelled  = "CANCELLED"
	StageRefundDone = "REFUND_DONE"
)

// DefaultStages maps stage names to the default pipeline's stage ids.
var DefaultStages = map[string]string{
	StageDelivered:  "appointmentscheduled",
	StageExchanged:  "qualifiedtobuy",
	StageCancelled:  "3071652573",
	StageRefundDone: "presentationscheduled",
}

// Transitions returns the ordered stages an executed action moves a deal through.
func Transitions(action string) []string {
	switch strings.ToLower(action) {
	case conversation.IntentExchange, conversation.IntentReturn:
		return []string{StageExchanged}
	case conversation.IntentCancel, conversation.IntentRefund:
		return []string{StageCancelled, StageRefundDone}
	}
	return nil
}

// Client talks to the deals API.
type Client struct {
	http    *HTTPClient
	baseURL string
	token   string
}

// NewClient creates a deals client.
func NewClient(baseURL, token string, httpClient *HTTPClient) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

type dealUpdate struct {
	Properties dealProperties `json:"properties"`
}

type dealProperties struct {
	Pipeline  string `json:"pipeline"`
	DealStage string `json:"dealstage"`
}

// UpdateDealStage moves deal dealID to stageID within pipelineID.
func (c *Client) UpdateDealStage(ctx context.Context, dealID, pipelineID, stageID string) error {
	endpoint := fmt.Sprintf("%s/crm/v3/objects/deals/%s", c.baseURL, url.PathEscape(dealID))
	headers := map[string]string{"Authorization": "Bearer " + c.token}
	body := dealUpdate{Properties: dealProperties{Pipeline: pipelineID, DealStage: stageID}}
	if err := c.http.DoJSON(ctx, "PATCH", endpoint, headers, body, nil); err != nil {
		return fmt.Errorf("update deal %s to %s: %w", dealID, stageID, err)
	}
	return nil
}

// StageManager applies the transitions of an action to a deal. The order id
// doubles as the deal id.
type StageManager struct {
	client   *Client
	pipeline string
	stages   map[string]string
	logger   *log.Logger
}

// NewStageManager builds a manager from cfg. Stage ids in cfg override the defaults.
func NewStageManager(cfg config.CRMConfig, logger *log.Logger) *StageManager {
	stages := make(map[string]string, len(DefaultStages))
	for k, v := range DefaultStages {
		stages[k] = v
	}
	for k, v := range cfg.Stages {
		stages[strings.ToUpper(k)] = v
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CRM] ", log.LstdFlags)
	}
	pipeline := cfg.PipelineID
	if pipeline == "" {
		pipeline = "default"
	}
	return &StageManager{
		client:   NewClient(cfg.BaseURL, cfg.Token, NewHTTPClient(cfg.Timeout, 2, 0)),
		pipeline: pipeline,
		stages:   stages,
		logger:   logger,
	}
}

// AdvanceExternalRecord implements the orchestrator record contract. Stages
// are applied in order and the first failure stops the sequence.
func (m *StageManager) AdvanceExternalRecord(ctx context.Context, orderID, action string) error {
	for _, stage := range Transitions(action) {
		id, ok := m.stages[stage]
		if !ok {
			return fmt.Errorf("no stage id configured for %s", stage)
		}
		if err := m.client.UpdateDealStage(ctx, orderID, m.pipeline, id); err != nil {
			return err
		}
		m.logger.Printf("deal %s moved to %s", orderID, stage)
	}
	return nil
}

// Noop is used when no CRM token is configured.
type Noop struct{}

func (Noop) AdvanceExternalRecord(context.Context, string, string) error { return nil }
