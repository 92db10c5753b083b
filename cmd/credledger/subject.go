package credledger

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/liftedinit/credledger/internal/models"
)

var validate = validator.New()

// subjectFromArgs builds the subject named by [collection] [collectionId]. Both must be non-empty.
func subjectFromArgs(args []string) (models.Subject, error) {
	subject := models.Subject{Collection: args[0], CollectionID: args[1]}
	if err := validate.Struct(subject); err != nil {
		return models.Subject{}, fmt.Errorf("invalid subject %q: %w", subject.String(), err)
	}
	return subject, nil
}
