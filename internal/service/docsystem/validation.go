package docsystem

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"scrapbook/internal/config"
	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
)

// Author names and ids appear in URLs and index keys
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

var kindRule = validation.By(func(value interface{}) error {
	kind, _ := value.(models.Kind)
	if !kind.Valid() {
		return fmt.Errorf("must be %q or %q", models.KindScrap, models.KindBook)
	}
	return nil
})

// validateCreateRequest validates a repository create request
func validateCreateRequest(req *docsysSvc.CreateRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Author,
			validation.Required,
			validation.Length(1, config.MaxAuthorLength),
			validation.Match(namePattern).Error("author may only contain letters, digits, and _ . @ -"),
		),
		validation.Field(&req.Kind, validation.Required, kindRule),
		validation.Field(&req.Title, validation.Length(0, config.MaxTitleLength)),
		validation.Field(&req.Content, validation.Length(0, config.MaxContentLength)),
		validation.Field(&req.Children,
			validation.When(req.Kind == models.KindScrap, validation.Empty.Error("a scrap cannot have children")),
			validation.Length(0, config.MaxBookChildren),
		),
		validation.Field(&req.Message, validation.Length(0, config.MaxMessageLength)),
	)
	return asValidationError(err)
}

// validateCommitRequest validates the next version of doc
func validateCommitRequest(doc *models.Document, req *docsysSvc.CommitRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Content, validation.Length(0, config.MaxContentLength)),
		validation.Field(&req.Title, validation.Length(0, config.MaxTitleLength)),
		validation.Field(&req.Children,
			validation.When(doc.Kind == models.KindScrap, validation.Empty.Error("a scrap cannot have children")),
			validation.Length(0, config.MaxBookChildren),
		),
		validation.Field(&req.Message, validation.Length(0, config.MaxMessageLength)),
	)
	return asValidationError(err)
}

// asValidationError converts ozzo errors into the domain validation error
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		return &domain.ValidationError{Message: errs.Error()}
	}
	return err
}
