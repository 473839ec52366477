package api

import "github.com/Checker-Finance/instrument-provider/pkg/model"

type InstrumentListResponse struct {
	Venue       string             `json:"venue"`
	Count       int                `json:"count"`
	Instruments []model.Instrument `json:"instruments"`
}

type ReloadResponse struct {
	Venue  string `json:"venue"`
	Status string `json:"status"` // pending | loaded | failed
	Count  int    `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}
