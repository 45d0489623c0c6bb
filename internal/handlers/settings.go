package handlers

import (
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/crypto"
	"github.com/painelssh/sshpanel/internal/database"
)

var (
	// encryptedSettings are stored sealed and returned masked.
	encryptedSettings = []string{"mercadopago_access_token"}
	plainSettings     = []string{"mercadopago_public_key", "payment_amount", "default_max_connections"}
)

func isEncryptedSetting(key string) bool {
	for _, k := range encryptedSettings {
		if k == key {
			return true
		}
	}
	return false
}

func isPlainSetting(key string) bool {
	for _, k := range plainSettings {
		if k == key {
			return true
		}
	}
	return false
}

func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	db := a.DB.WithContext(r.Context())
	result := make(map[string]string)

	for _, key := range plainSettings {
		v, _ := database.GetSetting(db, key)
		result[key] = v
	}
	for _, key := range encryptedSettings {
		v, _ := database.GetSetting(db, key)
		if v == "" {
			result[key] = ""
			continue
		}
		plain, err := a.Vault.Decrypt(v)
		if err != nil {
			log.Printf("[settings] cannot decrypt %s: %v", key, err)
			result[key] = "****"
			continue
		}
		result[key] = crypto.Mask(plain)
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if !decodeBody(w, r, &body) {
		return
	}
	for key, value := range body {
		if !isEncryptedSetting(key) && !isPlainSetting(key) {
			writeError(w, http.StatusBadRequest, "Unknown setting: "+key)
			return
		}
		if detail := validateSetting(key, value); detail != "" {
			writeError(w, http.StatusBadRequest, detail)
			return
		}
	}

	db := a.DB.WithContext(r.Context())
	for key, value := range body {
		if isEncryptedSetting(key) {
			if value == "" {
				continue
			}
			sealed, err := a.Vault.Encrypt(value)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to encrypt "+key)
				return
			}
			value = sealed
		}
		if err := database.SetSetting(db, key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update settings")
			return
		}
	}

	keys := make([]string, 0, len(body))
	for key := range body {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	a.record(r, audit.EventSettingsUpdated, 0, "", strings.Join(keys, ","))
	log.Printf("[settings] updated %d settings", len(body))
	a.GetSettings(w, r)
}

func validateSetting(key, value string) string {
	switch key {
	case "payment_amount":
		if f, err := strconv.ParseFloat(value, 64); err != nil || f <= 0 {
			return "payment_amount must be a positive number"
		}
	case "default_max_connections":
		if n, err := strconv.Atoi(value); err != nil || n < 1 || n > 100 {
			return "default_max_connections must be between 1 and 100"
		}
	}
	return ""
}
