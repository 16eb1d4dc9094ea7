package secrets

// Secret keys read by the bridge. The names match the deployment's
// environment variables.
const (
	StepCAProvisionerPassword = "STEP_CA_PROVISIONER_PASSWORD"
	StepCASubCAPassword       = "STEP_CA_SUB_CA_PASSWORD"
	StepCAAdminPassword       = "STEP_CA_ADMIN_PASSWORD"
	RabbitMQAdminPassword     = "RABBITMQ_ADMIN_PASSWORD"
	KeycloakAdminPassword     = "KEYCLOAK_ADMIN_PASSWORD"
	HawkBitPassword           = "HAWKBIT_PASSWORD"
	InfluxToken               = "INFLUX_TOKEN"
	// ThingsBoardWebhookToken, when set, must accompany every webhook call.
	ThingsBoardWebhookToken   = "THINGSBOARD_WEBHOOK_TOKEN"
)

// AllKeys lists every secret the bridge reads.
var AllKeys = []string{
	StepCAProvisionerPassword,
	StepCASubCAPassword,
	StepCAAdminPassword,
	RabbitMQAdminPassword,
	KeycloakAdminPassword,
	HawkBitPassword,
	InfluxToken,
	ThingsBoardWebhookToken,
}
