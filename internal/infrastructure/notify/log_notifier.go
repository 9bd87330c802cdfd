package notify

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

// LogNotifier records notifications in the log instead of sending
// mail. It stands in wherever no mail transport is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) AccountCreated(ctx context.Context, email, fullName string) {
	n.logger.Info("welcome notification",
		zap.String("email", email),
		zap.String("full_name", fullName))
}

func (n *LogNotifier) RequestCompleted(ctx context.Context, req *domain.AccountCreationRequest) {
	n.logger.Info("completion notification",
		zap.String("request_id", req.ID),
		zap.String("requested_by", req.RequestedBy),
		zap.String("email", req.Email))
}
