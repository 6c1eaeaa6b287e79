package model

import "time"

const (
	CaseStatusOpen       = "ouvert"
	CaseStatusInProgress = "en_cours"
	CaseStatusClosed     = "ferme"
	CaseStatusArchived   = "archive"
)

// Case is an investigation file ("dossier").
type Case struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Numero             string    `gorm:"uniqueIndex;size:32;not null" json:"numero"`
	Titre              string    `gorm:"size:255;not null" json:"titre"`
	Description        string    `gorm:"type:text" json:"description"`
	Statut             string    `gorm:"size:16;not null;default:ouvert" json:"statut"`
	Priorite           string    `gorm:"size:16" json:"priorite"`
	Lieu               string    `gorm:"size:255" json:"lieu"`
	LeadInvestigatorID *int64    `gorm:"index" json:"lead_investigator_id"`
	LeadInvestigator   *User     `gorm:"foreignKey:LeadInvestigatorID" json:"lead_investigator,omitempty"`
	Suspects           []Suspect `gorm:"many2many:case_suspects;" json:"suspects,omitempty"`
	Pieces             []Piece   `gorm:"foreignKey:CaseID" json:"pieces,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Suspect is a person linked to one or more cases.
type Suspect struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Nom           string     `gorm:"size:64;not null" json:"nom"`
	Prenom        string     `gorm:"size:64" json:"prenom"`
	DateNaissance *time.Time `json:"date_naissance"`
	Nationalite   string     `gorm:"size:64" json:"nationalite"`
	Adresse       string     `gorm:"size:255" json:"adresse"`
	Telephone     string     `gorm:"size:32" json:"telephone"`
	Statut        string     `gorm:"size:32" json:"statut"`
	Notes         string     `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Piece is an evidence attachment stored on disk and described here.
type Piece struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CaseID      int64     `gorm:"index;not null" json:"case_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `gorm:"size:64" json:"sha256"`
	StoragePath string    `gorm:"size:512" json:"-" audit:"-"`
	UploadedBy  *int64    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}
