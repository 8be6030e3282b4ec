// Package nhtsa pulls recall and complaint records for one vehicle from the
// public NHTSA safety API.
package nhtsa

import (
	"strconv"
	"time"
)

// Kind is the record family served by one API endpoint.
type Kind string

const (
	KindRecalls    Kind = "recalls"
	KindComplaints Kind = "complaints"
)

// Recall is one record of recallsByVehicle.
type Recall struct {
	CampaignNumber     string `json:"NHTSACampaignNumber"`
	Manufacturer       string `json:"Manufacturer,omitempty"`
	Component          string `json:"Component"`
	Summary            string `json:"Summary"`
	Consequence        string `json:"Consequence"`
	Remedy             string `json:"Remedy"`
	ReportReceivedDate string `json:"ReportReceivedDate"`
	ModelYear          string `json:"ModelYear"`
}

// Complaint is one record of complaintsByVehicle.
type Complaint struct {
	ODINumber          int       `json:"odiNumber"`
	Crash              bool      `json:"crash"`
	Fire               bool      `json:"fire"`
	NumberOfInjuries   int       `json:"numberOfInjuries"`
	NumberOfDeaths     int       `json:"numberOfDeaths"`
	DateComplaintFiled string    `json:"dateComplaintFiled"`
	Components         string    `json:"components"`
	Summary            string    `json:"summary"`
	Products           []Product `json:"products,omitempty"`
}

// Product is a vehicle or tire named in a complaint.
type Product struct {
	Type         string `json:"type"`
	ProductYear  string `json:"productYear"`
	ProductMake  string `json:"productMake"`
	ProductModel string `json:"productModel"`
}

// ModelYear returns the year of the first vehicle product, or fallback.
func (c Complaint) ModelYear(fallback int) string {
	for _, p := range c.Products {
		if p.Type == "Vehicle" && p.ProductYear != "" {
			return p.ProductYear
		}
	}
	return strconv.Itoa(fallback)
}

// Response is the envelope of both endpoints. Results stay raw so the saved
// file is exactly what the API returned.
type Response[T any] struct {
	Count   int    `json:"Count"`
	Message string `json:"Message,omitempty"`
	Results []T    `json:"results"`
}

// Config controls an NHTSA run.
type Config struct {
	BaseURL   string
	Make      string
	Model     string
	Years     []int
	OutDir    string // data/raw/nhtsa
	Resume    bool
	RateLimit time.Duration
}

// DefaultConfig targets the 1993-1997 Land Cruiser.
func DefaultConfig(outDir string) Config {
	return Config{
		BaseURL:   "https://api.nhtsa.gov",
		Make:      "toyota",
		Model:     "land cruiser",
		Years:     []int{1993, 1994, 1995, 1996, 1997},
		OutDir:    outDir,
		Resume:    true,
		RateLimit: 10 * time.Second,
	}
}
