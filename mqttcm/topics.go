package mqttcm

import (
	"fmt"
	"strings"

	"go.ntppool.org/common/config/depenv"
)

type MQTTTopics struct {
	e depenv.DeploymentEnvironment
}

func NewTopics(depEnv depenv.DeploymentEnvironment) *MQTTTopics {
	return &MQTTTopics{e: depEnv}
}

func (t *MQTTTopics) prefix() string {
	return fmt.Sprintf("/%s/clustermon", t.e)
}

func (t *MQTTTopics) StatusSubscription() string {
	return fmt.Sprintf("%s/topology/+/status", t.prefix())
}

// Status is the retained status topic for the topology called name.
func (t *MQTTTopics) Status(name string) string {
	return fmt.Sprintf("%s/topology/%s/status", t.prefix(), name)
}

// ParseStatusTopic returns the topology name from a status topic.
func (t *MQTTTopics) ParseStatusTopic(topic string) (string, error) {
	// /devel/clustermon/topology/rs0/status
	rest, ok := strings.CutPrefix(topic, t.prefix())
	p := strings.Split(rest, "/")
	if !ok || len(p) != 4 || p[1] != "topology" || p[3] != "status" || p[2] == "" {
		return "", fmt.Errorf("could not parse status topic: %q", topic)
	}
	return p[2], nil
}
