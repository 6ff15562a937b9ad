package pvbus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/controller"
	"github.com/openbeamline/governor/internal/machine"
	"github.com/openbeamline/governor/internal/status"
	"github.com/openbeamline/governor/internal/supervisor"
)

func testLog() *logger.Log {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logger.New(l, "test")
}

func robotConfig() *config.MachineConfig {
	return &config.MachineConfig{
		Name:      "Robot",
		InitState: "Park",
		Devices: map[string]config.DeviceConfig{
			"mot": {Type: config.KindMotor, Tolerance: 0.01, Timeout: 2, Velocity: 1000, Positions: map[string]float64{"out": 5, "park": 0}},
		},
		States: map[string]config.StateConfig{
			"Park": {Name: "Park"},
			"Out": {Name: "Out", Targets: map[string]config.TargetBindingConfig{
				"mot": {Target: "out", Limits: [2]float64{-0.5, 0.5}},
			}},
		},
		Transitions: map[string]map[string]config.StageList{
			"Park": {"Out": config.StageList{config.Stage{"mot"}}},
			"Out":  {"Park": config.StageList{}},
		},
	}
}

func startServerWithRobot() (*httptest.Server, *supervisor.Governor, *controller.Controller) {
	m, err := machine.Compile(robotConfig(), nil, testLog())
	Expect(err).NotTo(HaveOccurred())

	s := NewServer("", nil, testLog())
	gov := supervisor.New(testLog())
	c := controller.New(m, testLog(), s.Publish)
	gov.Register("Robot", c)
	s.SetGovernor(gov)
	gov.Start()

	ts := httptest.NewServer(s.Router())
	DeferCleanup(func() {
		ts.Close()
		c.Close()
	})
	return ts, gov, c
}

// startServerWithRobotAndStore is like startServerWithRobot but wires a
// config.Store backed by a real temp file, so limit/position writes
// routed through the PV bus actually exercise the persistence path.
func startServerWithRobotAndStore() (*httptest.Server, *supervisor.Governor, *controller.Controller, string) {
	cfg := robotConfig()
	path := filepath.Join(GinkgoT().TempDir(), "robot.yaml")

	m, err := machine.Compile(cfg, nil, testLog())
	Expect(err).NotTo(HaveOccurred())
	m.SetConfigStore(config.NewStore(path, cfg))

	s := NewServer("", nil, testLog())
	gov := supervisor.New(testLog())
	c := controller.New(m, testLog(), s.Publish)
	gov.Register("Robot", c)
	s.SetGovernor(gov)
	gov.Start()

	ts := httptest.NewServer(s.Router())
	DeferCleanup(func() {
		ts.Close()
		c.Close()
	})
	return ts, gov, c, path
}

func get(ts *httptest.Server, path string) (int, string) {
	resp, err := http.Get(ts.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, string(body)
}

func put(ts *httptest.Server, path, value string) int {
	req, err := http.NewRequest(http.MethodPut, ts.URL+path, strings.NewReader(value))
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	return resp.StatusCode
}

var _ = Describe("Server channel routing", func() {
	It("reads the List-I global channel", func() {
		ts, _, _ := startServerWithRobot()
		code, body := get(ts, "/pv/"+Global(SuffixListI))
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("Robot"))
	})

	It("reads Status-Sts and State-I for a machine", func() {
		ts, _, _ := startServerWithRobot()
		code, body := get(ts, "/pv/"+Machine("Robot", SuffixStatusSts))
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal(string(status.Disabled)))

		code, body = get(ts, "/pv/"+Machine("Robot", SuffixStateI))
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("Park"))
	})

	It("404s an unrecognized channel name", func() {
		ts, _, _ := startServerWithRobot()
		code, _ := get(ts, "/pv/{Gov:Ghost}Status-Sts")
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("writes a device target setpoint and reads it back", func() {
		ts, _, _ := startServerWithRobot()
		code := put(ts, "/pv/"+PosTarget("Robot", "mot", "out"), "7.5")
		Expect(code).To(Equal(http.StatusNoContent))

		_, body := get(ts, "/pv/"+PosTarget("Robot", "mot", "out"))
		Expect(body).To(Equal("7.5"))
	})

	It("rejects Cmd:Go-Cmd while Disabled with a 409", func() {
		ts, _, _ := startServerWithRobot()
		code := put(ts, "/pv/"+Machine("Robot", SuffixGoCmd), "Out")
		Expect(code).To(Equal(http.StatusConflict))
	})

	It("accepts Active-Sel and Cmd:Go-Cmd once the machine is enabled", func() {
		ts, gov, c := startServerWithRobot()
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))

		code := put(ts, "/pv/"+Machine("Robot", SuffixGoCmd), "Out")
		Expect(code).To(Equal(http.StatusNoContent))
		Eventually(func() string { return c.Last().State }).Should(Equal("Out"))
	})

	It("reads Reach-I and the state's Sts:Reach-Sts channel consistently", func() {
		ts, gov, c := startServerWithRobot()
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))

		_, reachList := get(ts, "/pv/"+Machine("Robot", SuffixReachI))
		Expect(reachList).To(ContainSubstring("Out"))

		_, reachBit := get(ts, "/pv/"+ReachSts("Robot", "Out"))
		Expect(reachBit).To(Equal("1"))
	})

	It("reads the Sts:Devs-I, Sts:States-I and Sts:Tgts-I enumeration channels", func() {
		ts, _, _ := startServerWithRobot()

		_, devs := get(ts, "/pv/"+Machine("Robot", SuffixDevsI))
		Expect(devs).To(Equal("mot"))

		_, states := get(ts, "/pv/"+Machine("Robot", SuffixStatesI))
		Expect(strings.Split(states, ",")).To(ConsistOf("Park", "Out"))

		_, tgts := get(ts, "/pv/"+Device("Robot", "mot", SuffixTgtsI))
		Expect(strings.Split(tgts, ",")).To(ConsistOf("out", "park"))
	})

	It("writes and reads back a state's LLim/HLim device limit channels", func() {
		ts, _, _ := startServerWithRobot()

		code := put(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitHighTag), "1.5")
		Expect(code).To(Equal(http.StatusNoContent))

		_, body := get(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitHighTag))
		Expect(body).To(Equal("1.5"))

		_, lowBody := get(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitLowTag))
		Expect(lowBody).To(Equal("-0.5"))
	})

	It("rejects an HLim write that would invert the window", func() {
		ts, _, _ := startServerWithRobot()

		code := put(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitHighTag), "-1")
		Expect(code).To(Equal(http.StatusBadRequest))

		_, body := get(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitHighTag))
		Expect(body).To(Equal("0.5"))
	})

	It("persists a limit write to the backing config file", func() {
		ts, _, _, path := startServerWithRobotAndStore()

		code := put(ts, "/pv/"+DeviceLimit("Robot", "Out", "mot", LimitLowTag), "-2")
		Expect(code).To(Equal(http.StatusNoContent))

		raw, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("-2"))

		reloaded, err := config.LoadMachine(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.States["Out"].Targets["mot"].Limits[0]).To(Equal(-2.0))
	})

	It("persists a position write to the backing config file", func() {
		ts, _, _, path := startServerWithRobotAndStore()

		code := put(ts, "/pv/"+PosTarget("Robot", "mot", "out"), "8")
		Expect(code).To(Equal(http.StatusNoContent))

		reloaded, err := config.LoadMachine(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Devices["mot"].Positions["out"]).To(Equal(8.0))
	})
})
