package controllers

import (
	"net/http"
	"strings"

	"github.com/tidecrate/storefront/api/responses"
	"github.com/tidecrate/storefront/api/validators"
	"github.com/tidecrate/storefront/internal/certificates"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
)

func OrderCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		certs, err := svc.List(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, certs)
	}
}

// AdminCertificateUpload expects multipart fields certificate_type and file.
func AdminCertificateUpload(svc certificates.Service, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		file, release, err := validators.FormFile(w, r, "file", maxBytes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer release()

		certType, err := enums.ParseCertificateType(strings.TrimSpace(r.FormValue("certificate_type")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid certificate_type"))
			return
		}

		cert, err := svc.Upload(r.Context(), certificates.UploadInput{
			OrderID: orderID,
			Type:    certType,
			File:    file,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, cert)
	}
}

func AdminCertificateDelete(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		certID, err := validators.ParseUUIDParam(r, "certificateId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), actor, certID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted", "certificate_id": certID.String()})
	}
}
