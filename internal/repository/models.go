package repository

import (
	"time"

	"github.com/lib/pq"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

// SponsorModel is the persistence model for the sponsors table.
type SponsorModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"type:varchar(255);not null"`
	DisplayName string `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
}

func (SponsorModel) TableName() string {
	return "sponsors"
}

// ContentModel is the persistence model for the contents table.
type ContentModel struct {
	ID               string         `gorm:"type:uuid;primaryKey"`
	Title            string         `gorm:"type:varchar(255);not null"`
	Body             string         `gorm:"type:text;not null"`
	Region           string         `gorm:"type:varchar(100)"`
	Category         string         `gorm:"type:varchar(100)"`
	Language         string         `gorm:"type:varchar(10)"`
	MediaURLs        pq.StringArray `gorm:"column:media_urls;type:text[]"`
	TargetRegions    pq.StringArray `gorm:"column:target_regions;type:text[]"`
	TargetCategories pq.StringArray `gorm:"column:target_categories;type:text[]"`
	AuthorityLevel   int            `gorm:"not null;default:0"`
	SponsorID        *string        `gorm:"type:uuid"`
	Sponsor          *SponsorModel  `gorm:"foreignKey:SponsorID"`
	CampaignID       *string        `gorm:"type:uuid"`
	CreatedAt        time.Time
}

func (ContentModel) TableName() string {
	return "contents"
}

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID               string         `gorm:"type:uuid;primaryKey"`
	Title            string         `gorm:"type:varchar(255);not null"`
	Body             string         `gorm:"type:text;not null"`
	Region           string         `gorm:"type:varchar(100)"`
	Category         string         `gorm:"type:varchar(100)"`
	MediaURLs        pq.StringArray `gorm:"column:media_urls;type:text[]"`
	TargetRegions    pq.StringArray `gorm:"column:target_regions;type:text[]"`
	TargetCategories pq.StringArray `gorm:"column:target_categories;type:text[]"`
	SponsorID        *string        `gorm:"type:uuid"`
	ContentID        *string        `gorm:"type:uuid"`
	TotalBudget      int64          `gorm:"not null;default:0"`
	SpentAmount      int64          `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// SubscriberModel is the persistence model for the subscribers table.
type SubscriberModel struct {
	Phone        string         `gorm:"type:varchar(32);primaryKey"`
	OptedIn      bool           `gorm:"not null;default:false"`
	Regions      pq.StringArray `gorm:"column:regions;type:text[]"`
	Categories   pq.StringArray `gorm:"column:categories;type:text[]"`
	LastActivity *time.Time     `gorm:"type:timestamptz"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SubscriberModel) TableName() string {
	return "subscribers"
}

// BroadcastModel is the persistence model for the broadcasts table.
type BroadcastModel struct {
	ID                 string                    `gorm:"type:uuid;primaryKey"`
	ContentID          string                    `gorm:"type:uuid;not null"`
	CampaignID         *string                   `gorm:"type:uuid"`
	SupersedesID       *string                   `gorm:"type:uuid"`
	CorrelationID      string                    `gorm:"type:varchar(36);not null"`
	RecipientCount     int                       `gorm:"not null"`
	SuccessCount       int                       `gorm:"not null;default:0"`
	FailureCount       int                       `gorm:"not null;default:0"`
	Status             domain.BroadcastStatus    `gorm:"type:varchar(20);not null"`
	BatchesTotal       int                       `gorm:"not null;default:0"`
	BatchesCompleted   int                       `gorm:"not null;default:0"`
	ProgressPercentage float64                   `gorm:"not null;default:0"`
	TemplateUsed       string                    `gorm:"type:varchar(64)"`
	ErrorDetails       []domain.RecipientFailure `gorm:"type:jsonb;serializer:json;not null"`
	StartedAt          *time.Time                `gorm:"type:timestamptz"`
	CompletedAt        *time.Time                `gorm:"type:timestamptz"`
	SweptAt            *time.Time                `gorm:"type:timestamptz"`
	ReconciledAt       *time.Time                `gorm:"type:timestamptz"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (BroadcastModel) TableName() string {
	return "broadcasts"
}

// BroadcastBatchModel is the persistence model for the broadcast_batches table.
type BroadcastBatchModel struct {
	ID                string                    `gorm:"type:uuid;primaryKey"`
	BroadcastID       string                    `gorm:"type:uuid;not null"`
	BatchNumber       int                       `gorm:"not null"`
	Recipients        pq.StringArray            `gorm:"column:recipients;type:text[];not null"`
	PendingRecipients pq.StringArray            `gorm:"column:pending_recipients;type:text[];not null"`
	Status            domain.BatchStatus        `gorm:"type:varchar(20);not null"`
	SuccessCount      int                       `gorm:"not null;default:0"`
	FailureCount      int                       `gorm:"not null;default:0"`
	FailedRecipients  pq.StringArray            `gorm:"column:failed_recipients;type:text[];not null"`
	ErrorDetails      []domain.RecipientFailure `gorm:"type:jsonb;serializer:json;not null"`
	RetryCount        int                       `gorm:"not null;default:0"`
	StartedAt         *time.Time                `gorm:"type:timestamptz"`
	CompletedAt       *time.Time                `gorm:"type:timestamptz"`
	PublishedAt       *time.Time                `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (BroadcastBatchModel) TableName() string {
	return "broadcast_batches"
}

// ComplianceRecordModel is the persistence model for compliance_records.
type ComplianceRecordModel struct {
	ID                  string `gorm:"type:uuid;primaryKey"`
	BroadcastID         string `gorm:"type:uuid;not null"`
	ContentID           string `gorm:"type:uuid;not null"`
	TemplateUsed        string `gorm:"type:varchar(64);not null"`
	Channel             string `gorm:"type:varchar(32);not null"`
	SponsorDisclosed    bool   `gorm:"not null"`
	OptOutIncluded      bool   `gorm:"not null"`
	ContentLinkIncluded bool   `gorm:"not null"`
	CreatedAt           time.Time
}

func (ComplianceRecordModel) TableName() string {
	return "compliance_records"
}

// BudgetTransactionModel is the persistence model for budget_transactions.
type BudgetTransactionModel struct {
	ID          string                 `gorm:"type:uuid;primaryKey"`
	CampaignID  string                 `gorm:"type:uuid;not null"`
	BroadcastID string                 `gorm:"type:uuid;not null"`
	Kind        domain.TransactionKind `gorm:"type:varchar(20);not null"`
	Amount      int64                  `gorm:"not null"`
	Messages    int                    `gorm:"not null"`
	CreatedAt   time.Time
}

func (BudgetTransactionModel) TableName() string {
	return "budget_transactions"
}

func stringArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}

func failures(values []domain.RecipientFailure) []domain.RecipientFailure {
	if values == nil {
		return []domain.RecipientFailure{}
	}
	return values
}

func contentModelToDomain(m *ContentModel) *domain.Content {
	if m == nil {
		return nil
	}

	c := &domain.Content{
		ID:        m.ID,
		Title:     m.Title,
		Body:      m.Body,
		Region:    m.Region,
		Category:  m.Category,
		Language:  m.Language,
		MediaURLs: []string(m.MediaURLs),
		Targeting: domain.Targeting{
			Regions:    []string(m.TargetRegions),
			Categories: []string(m.TargetCategories),
		},
		AuthorityLevel: domain.AuthorityLevel(m.AuthorityLevel),
		CampaignID:     m.CampaignID,
		CreatedAt:      m.CreatedAt,
	}
	if m.Sponsor != nil {
		c.Sponsor = &domain.Sponsor{
			ID:          m.Sponsor.ID,
			Name:        m.Sponsor.Name,
			DisplayName: m.Sponsor.DisplayName,
		}
	}
	return c
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:          m.ID,
		Title:       m.Title,
		Body:        m.Body,
		SponsorID:   m.SponsorID,
		ContentID:   m.ContentID,
		TotalBudget: m.TotalBudget,
		SpentAmount: m.SpentAmount,
	}
}

func subscriberModelToDomain(m *SubscriberModel) domain.Recipient {
	return domain.Recipient{
		Phone:        m.Phone,
		OptedIn:      m.OptedIn,
		Regions:      []string(m.Regions),
		Categories:   []string(m.Categories),
		LastActivity: m.LastActivity,
	}
}

func broadcastModelFromDomain(b *domain.Broadcast) *BroadcastModel {
	if b == nil {
		return nil
	}

	return &BroadcastModel{
		ID:                 b.ID,
		ContentID:          b.ContentID,
		CampaignID:         b.CampaignID,
		SupersedesID:       b.SupersedesID,
		CorrelationID:      b.CorrelationID,
		RecipientCount:     b.RecipientCount,
		SuccessCount:       b.SuccessCount,
		FailureCount:       b.FailureCount,
		Status:             b.Status,
		BatchesTotal:       b.BatchesTotal,
		BatchesCompleted:   b.BatchesCompleted,
		ProgressPercentage: b.ProgressPercentage,
		TemplateUsed:       b.TemplateUsed,
		ErrorDetails:       failures(b.ErrorDetails),
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		SweptAt:            b.SweptAt,
		ReconciledAt:       b.ReconciledAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func broadcastModelToDomain(m *BroadcastModel) *domain.Broadcast {
	if m == nil {
		return nil
	}

	return &domain.Broadcast{
		ID:                 m.ID,
		ContentID:          m.ContentID,
		CampaignID:         m.CampaignID,
		SupersedesID:       m.SupersedesID,
		CorrelationID:      m.CorrelationID,
		RecipientCount:     m.RecipientCount,
		SuccessCount:       m.SuccessCount,
		FailureCount:       m.FailureCount,
		Status:             m.Status,
		BatchesTotal:       m.BatchesTotal,
		BatchesCompleted:   m.BatchesCompleted,
		ProgressPercentage: m.ProgressPercentage,
		TemplateUsed:       m.TemplateUsed,
		ErrorDetails:       m.ErrorDetails,
		StartedAt:          m.StartedAt,
		CompletedAt:        m.CompletedAt,
		SweptAt:            m.SweptAt,
		ReconciledAt:       m.ReconciledAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func batchModelFromDomain(b *domain.BroadcastBatch) *BroadcastBatchModel {
	if b == nil {
		return nil
	}

	return &BroadcastBatchModel{
		ID:                b.ID,
		BroadcastID:       b.BroadcastID,
		BatchNumber:       b.BatchNumber,
		Recipients:        stringArray(b.Recipients),
		PendingRecipients: stringArray(b.PendingRecipients),
		Status:            b.Status,
		SuccessCount:      b.SuccessCount,
		FailureCount:      b.FailureCount,
		FailedRecipients:  stringArray(b.FailedRecipients),
		ErrorDetails:      failures(b.ErrorDetails),
		RetryCount:        b.RetryCount,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		PublishedAt:       b.PublishedAt,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func batchModelToDomain(m *BroadcastBatchModel) *domain.BroadcastBatch {
	if m == nil {
		return nil
	}

	return &domain.BroadcastBatch{
		ID:                m.ID,
		BroadcastID:       m.BroadcastID,
		BatchNumber:       m.BatchNumber,
		Recipients:        []string(m.Recipients),
		PendingRecipients: []string(m.PendingRecipients),
		Status:            m.Status,
		SuccessCount:      m.SuccessCount,
		FailureCount:      m.FailureCount,
		FailedRecipients:  []string(m.FailedRecipients),
		ErrorDetails:      m.ErrorDetails,
		RetryCount:        m.RetryCount,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		PublishedAt:       m.PublishedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func complianceModelFromDomain(r *domain.ComplianceRecord) *ComplianceRecordModel {
	if r == nil {
		return nil
	}

	return &ComplianceRecordModel{
		ID:                  r.ID,
		BroadcastID:         r.BroadcastID,
		ContentID:           r.ContentID,
		TemplateUsed:        r.TemplateUsed,
		Channel:             r.Channel,
		SponsorDisclosed:    r.SponsorDisclosed,
		OptOutIncluded:      r.OptOutIncluded,
		ContentLinkIncluded: r.ContentLinkIncluded,
		CreatedAt:           r.CreatedAt,
	}
}

func complianceModelToDomain(m *ComplianceRecordModel) *domain.ComplianceRecord {
	if m == nil {
		return nil
	}

	return &domain.ComplianceRecord{
		ID:                  m.ID,
		BroadcastID:         m.BroadcastID,
		ContentID:           m.ContentID,
		TemplateUsed:        m.TemplateUsed,
		Channel:             m.Channel,
		SponsorDisclosed:    m.SponsorDisclosed,
		OptOutIncluded:      m.OptOutIncluded,
		ContentLinkIncluded: m.ContentLinkIncluded,
		CreatedAt:           m.CreatedAt,
	}
}

func transactionModelFromDomain(t *domain.BudgetTransaction) *BudgetTransactionModel {
	if t == nil {
		return nil
	}

	return &BudgetTransactionModel{
		ID:          t.ID,
		CampaignID:  t.CampaignID,
		BroadcastID: t.BroadcastID,
		Kind:        t.Kind,
		Amount:      t.Amount,
		Messages:    t.Messages,
		CreatedAt:   t.CreatedAt,
	}
}

func transactionModelToDomain(m *BudgetTransactionModel) *domain.BudgetTransaction {
	if m == nil {
		return nil
	}

	return &domain.BudgetTransaction{
		ID:          m.ID,
		CampaignID:  m.CampaignID,
		BroadcastID: m.BroadcastID,
		Kind:        m.Kind,
		Amount:      m.Amount,
		Messages:    m.Messages,
		CreatedAt:   m.CreatedAt,
	}
}
